package driving

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// GitHandle tracks one asynchronous git operation.
type GitHandle interface {
	// ID is the request id carried by progress messages.
	ID() string

	// Done is closed when the operation finishes, fails or is cancelled.
	Done() <-chan struct{}

	// Wait blocks until Done or ctx ends and returns the outcome.
	Wait(ctx context.Context) (domain.GitResult, error)

	// Cancel requests the operation to stop. Queued operations never start.
	Cancel()
}

// GitOperations runs local git engine operations off the caller's goroutine.
// Operations on the same repository run one at a time.
type GitOperations interface {
	Clone(ctx context.Context, url string, opts domain.CloneOptions) GitHandle
	Fetch(ctx context.Context, repoKey string, opts domain.FetchOptions) GitHandle
	Push(ctx context.Context, repoKey, ref string, opts domain.PushOptions) GitHandle

	// Progress streams out-of-band progress for every operation.
	Progress() <-chan domain.GitProgress
}
