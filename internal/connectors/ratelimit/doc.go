// Package ratelimit paces and retries host API calls.
//
// A single Limiter is shared by every host client in the process. It keeps
// one window per provider+verb key and applies three layers:
//
//   - Throttle: a minimum idle gap from the end of the previous call on the
//     same key, plus an optional provider-wide token bucket.
//   - Classify: Retry-After/reset headers, then 403 abuse bodies, then
//     5xx/network backoff, otherwise fatal.
//   - Quota: advisory remaining/limit/reset from response headers.
//
// Do combines them into a retrying call with a capped number of attempts.
package ratelimit
