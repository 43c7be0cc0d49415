package driving

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// ProgressFunc receives import progress at phase transitions and page
// boundaries. The final call carries IsComplete or Error.
type ProgressFunc func(domain.ImportProgress)

// Importer imports a hosted repository into events.
type Importer interface {
	// Import runs one import. The summary is returned even on failure and
	// carries the counts achieved before the failure.
	Import(ctx context.Context, req domain.ImportRequest, progress ProgressFunc) (*domain.ImportSummary, error)

	// History returns recorded import runs, most recent first.
	History(ctx context.Context, limit int) ([]domain.ImportRun, error)
}
