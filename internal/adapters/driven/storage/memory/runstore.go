package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure ImportRunStore implements the interface.
var _ driven.ImportRunStore = (*ImportRunStore)(nil)

// ImportRunStore is an in-memory implementation of driven.ImportRunStore.
type ImportRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.ImportRun
}

// NewImportRunStore creates a new in-memory import run store.
func NewImportRunStore() *ImportRunStore {
	return &ImportRunStore{
		runs: make(map[string]domain.ImportRun),
	}
}

// SaveRun inserts or replaces a run.
func (s *ImportRunStore) SaveRun(_ context.Context, run domain.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Warnings = slices.Clone(run.Warnings)
	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID.
func (s *ImportRunStore) GetRun(_ context.Context, id string) (*domain.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

// ListRuns returns runs newest first. limit <= 0 means all.
func (s *ImportRunStore) ListRuns(_ context.Context, limit int) ([]domain.ImportRun, error) {
	s.mu.RLock()
	runs := make([]domain.ImportRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b domain.ImportRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

