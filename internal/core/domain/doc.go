// Package domain defines the core business entities for forgebridge.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Event: An immutable signed Git-over-events record
//   - RepoIdentity: The grouping key for announcements across authors
//   - RepoState, PatchNode, Thread, StatusRecord, EffectiveLabelSet: Projections
//   - HostRepo, HostIssue, HostPullRequest, HostComment: Host API models
//   - ImportCursor, ImportProgress, ImportSummary: Import pipeline state
//   - DataLevel: How much git data is materialised locally
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
