package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// RepoDataCache tracks how much git data is materialised locally per
// repository. Levels only rise until Invalidate is called. When a store is
// configured every change is written through to it.
type RepoDataCache struct {
	store driven.DataLevelStore

	mu     sync.RWMutex
	levels map[string]domain.DataLevel
}

// NewRepoDataCache creates a cache. store may be nil.
func NewRepoDataCache(store driven.DataLevelStore) *RepoDataCache {
	return &RepoDataCache{
		store:  store,
		levels: make(map[string]domain.DataLevel),
	}
}

// Load warms the cache from the store.
func (c *RepoDataCache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	levels, err := c.store.ListLevels(ctx)
	if err != nil {
		return fmt.Errorf("load data levels: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, level := range levels {
		if level > c.levels[key] {
			c.levels[key] = level
		}
	}
	logger.Debug("Loaded data levels for %d repositories", len(levels))
	return nil
}

// Level returns the cached level for repoKey, none when unknown.
func (c *RepoDataCache) Level(repoKey string) domain.DataLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.levels[repoKey]
}

// RecordFetch raises the level for repoKey. A lower level is ignored.
func (c *RepoDataCache) RecordFetch(ctx context.Context, repoKey string, level domain.DataLevel) error {
	if !level.IsValid() {
		return fmt.Errorf("data level %d: %w", level, domain.ErrInvalidInput)
	}

	c.mu.Lock()
	if level <= c.levels[repoKey] {
		c.mu.Unlock()
		return nil
	}
	c.levels[repoKey] = level
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.RaiseLevel(ctx, repoKey, level); err != nil {
			return fmt.Errorf("persist data level: %w", err)
		}
	}
	return nil
}

// ShouldSkip reports whether the cached level already satisfies requested.
func (c *RepoDataCache) ShouldSkip(repoKey string, requested domain.DataLevel) bool {
	return c.Level(repoKey).Satisfies(requested)
}

// Invalidate resets repoKey to none, e.g. after a force-push or deletion.
func (c *RepoDataCache) Invalidate(ctx context.Context, repoKey string) error {
	c.mu.Lock()
	delete(c.levels, repoKey)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.ResetLevel(ctx, repoKey); err != nil {
			return fmt.Errorf("reset data level: %w", err)
		}
	}
	return nil
}
