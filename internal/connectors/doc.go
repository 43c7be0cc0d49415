// Package connectors detects which host family serves a repository URL and
// builds the matching host provider.
//
// Providers are registered with the Factory at startup. Each subpackage
// implements driven.HostProvider for one family:
//
//   - github: GitHub and GitHub Enterprise (go-github)
//   - gitlab: gitlab.com and self-managed GitLab (client-go)
//   - gitea: Gitea, Forgejo and codeberg.org (rest)
//   - bitbucket: Bitbucket Cloud (rest)
//   - nostr: repositories already published to relays
//
// All providers share one ratelimit.Limiter.
package connectors
