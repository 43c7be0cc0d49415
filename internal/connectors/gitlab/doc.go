// Package gitlab implements the host provider for gitlab.com and self-managed
// GitLab instances on top of client-go.
//
// Projects are addressed by their namespaced path, so owners of nested
// groups keep their slashes. Merge requests are listed as pull requests and
// notes as comments; system notes are dropped. client-go's built-in retries
// and limiter are disabled and every call runs through ratelimit.Limiter,
// which reads GitLab's RateLimit-* headers.
package gitlab
