package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure DataLevelStore implements the interface.
var _ driven.DataLevelStore = (*DataLevelStore)(nil)

// DataLevelStore is an in-memory implementation of driven.DataLevelStore.
type DataLevelStore struct {
	mu     sync.RWMutex
	levels map[string]domain.DataLevel
}

// NewDataLevelStore creates a new in-memory data level store.
func NewDataLevelStore() *DataLevelStore {
	return &DataLevelStore{
		levels: make(map[string]domain.DataLevel),
	}
}

// GetLevel returns the stored level, or DataLevelNone.
func (s *DataLevelStore) GetLevel(_ context.Context, repoKey string) (domain.DataLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levels[repoKey], nil
}

// RaiseLevel stores level unless a higher one is already stored.
func (s *DataLevelStore) RaiseLevel(_ context.Context, repoKey string, level domain.DataLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level > s.levels[repoKey] {
		s.levels[repoKey] = level
	}
	return nil
}

// ResetLevel removes the stored level.
func (s *DataLevelStore) ResetLevel(_ context.Context, repoKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.levels, repoKey)
	return nil
}

// ListLevels returns a copy of every stored level.
func (s *DataLevelStore) ListLevels(_ context.Context) (map[string]domain.DataLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.levels), nil
}
