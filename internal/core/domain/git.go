package domain

import "time"

// GitOp names a local git engine operation.
type GitOp string

// Git operations.
const (
	GitOpClone GitOp = "clone"
	GitOpFetch GitOp = "fetch"
	GitOpPush  GitOp = "push"
)

// GitProgress is an out-of-band progress message from the git engine.
type GitProgress struct {
	RequestID string
	RepoKey   string
	Op        GitOp
	Phase     string
	Loaded    int
	Total     int
}

// CloneOptions configures a clone.
type CloneOptions struct {
	RepoKey string
	// Level is the amount of data to materialise. Shallow implies depth 1.
	Level  DataLevel
	Branch string
}

// Depth returns the clone depth implied by Level. Zero means full history.
func (o CloneOptions) Depth() int {
	if o.Level == DataLevelShallow || o.Level == DataLevelRefs {
		return 1
	}
	return 0
}

// FetchOptions configures a fetch.
type FetchOptions struct {
	Refs  []string
	Level DataLevel
}

// PushOptions configures a push.
type PushOptions struct {
	Remote string
	Force  bool
}

// PushResult is reported by the git engine after a push.
type PushResult struct {
	Ref string
	// ForcePushed is true when the remote ref was rewritten non-fast-forward.
	ForcePushed bool
}

// GitResult is the outcome of one git operation.
type GitResult struct {
	RequestID string
	RepoKey   string
	Op        GitOp
	// Skipped is true when the local data level already satisfied the request.
	Skipped  bool
	Level    DataLevel
	Push     *PushResult
	Duration time.Duration
}
