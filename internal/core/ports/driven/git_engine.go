package driven

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// ProgressFunc receives engine progress. It must not block.
type ProgressFunc func(domain.GitProgress)

// GitEngine is the local git engine. Calls are blocking and heavy; the
// GitOperations service runs them off the caller's goroutine.
// Failures wrap domain.ErrGitOperation.
type GitEngine interface {
	Clone(ctx context.Context, url string, opts domain.CloneOptions, progress ProgressFunc) error
	Fetch(ctx context.Context, repoKey string, opts domain.FetchOptions, progress ProgressFunc) error
	Push(ctx context.Context, repoKey, ref string, opts domain.PushOptions, progress ProgressFunc) (domain.PushResult, error)
}
