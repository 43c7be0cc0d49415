package driven

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// DataLevelStore persists per-repository data levels.
type DataLevelStore interface {
	// GetLevel returns the stored level, or DataLevelNone if unknown.
	GetLevel(ctx context.Context, repoKey string) (domain.DataLevel, error)

	// RaiseLevel stores level unless a higher one is already stored.
	RaiseLevel(ctx context.Context, repoKey string, level domain.DataLevel) error

	// ResetLevel removes the stored level.
	ResetLevel(ctx context.Context, repoKey string) error

	// ListLevels returns every stored level.
	ListLevels(ctx context.Context) (map[string]domain.DataLevel, error)
}

// ImportRunStore persists import history.
type ImportRunStore interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run domain.ImportRun) error

	// GetRun returns a run by ID, or domain.ErrNotFound.
	GetRun(ctx context.Context, id string) (*domain.ImportRun, error)

	// ListRuns returns runs newest first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]domain.ImportRun, error)
}
