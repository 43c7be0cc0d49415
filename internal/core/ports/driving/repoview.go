package driving

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// RepoViewer resolves the merged view of a repository from relay events.
type RepoViewer interface {
	// View queries relays and resolves the repository's state, issues and patches.
	View(ctx context.Context, req domain.RepoRequest) (*domain.RepoView, error)

	// Purge drops every cached view.
	Purge()
}
