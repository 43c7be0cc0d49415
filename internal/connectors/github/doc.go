// Package github implements the host provider for GitHub and GitHub
// Enterprise on top of go-github.
//
// # Authentication
//
// Personal access tokens are sent through an oauth2 static token source.
// Classic tokens need the 'repo' scope for private repositories and for
// forking. Without a token the provider makes unauthenticated calls, which
// GitHub limits to 60 requests per hour.
//
// # Rate Limiting
//
// go-github never retries on its own. Every request runs through the shared
// ratelimit.Limiter, keyed by "github:<host>" and the HTTP verb. go-github's
// typed errors are mapped back onto limiter failures:
//
//   - RateLimitError: primary limit, waits until X-RateLimit-Reset
//   - AbuseRateLimitError: secondary limit, waits Retry-After or the
//     configured secondary wait
//   - ErrorResponse: classified by status code
//
// # Listing
//
// Issues and pull requests are listed in every state, oldest first. The
// issues endpoint also returns pull requests; those are dropped so each
// item is imported once. Pull request conversations are read from the
// issue comments endpoint. Review comments on diffs are not listed.
//
// A listing that answers 404 yields an empty last page.
package github
