package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestNewStore_MigratesOnce(t *testing.T) {
	dir := t.TempDir()

	first, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(dir)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
	assert.Contains(t, second.Path(), "forgebridge.db")
}

func TestDataLevelStore(t *testing.T) {
	levels := setupTestStore(t).DataLevelStore()
	ctx := context.Background()

	t.Run("unknown key is none", func(t *testing.T) {
		level, err := levels.GetLevel(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, domain.DataLevelNone, level)
	})

	t.Run("raise never lowers", func(t *testing.T) {
		require.NoError(t, levels.RaiseLevel(ctx, "k", domain.DataLevelShallow))
		require.NoError(t, levels.RaiseLevel(ctx, "k", domain.DataLevelRefs))
		level, err := levels.GetLevel(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, domain.DataLevelShallow, level)

		require.NoError(t, levels.RaiseLevel(ctx, "k", domain.DataLevelFull))
		level, _ = levels.GetLevel(ctx, "k")
		assert.Equal(t, domain.DataLevelFull, level)
	})

	t.Run("invalid level rejected", func(t *testing.T) {
		err := levels.RaiseLevel(ctx, "k", domain.DataLevel(9))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("list and reset", func(t *testing.T) {
		require.NoError(t, levels.RaiseLevel(ctx, "other", domain.DataLevelRefs))
		all, err := levels.ListLevels(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]domain.DataLevel{
			"k":     domain.DataLevelFull,
			"other": domain.DataLevelRefs,
		}, all)

		require.NoError(t, levels.ResetLevel(ctx, "k"))
		level, _ := levels.GetLevel(ctx, "k")
		assert.Equal(t, domain.DataLevelNone, level)
	})
}

func TestImportRunStore(t *testing.T) {
	runs := setupTestStore(t).ImportRunStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	full := domain.ImportRun{
		ID:            "run-1",
		SourceURL:     "https://github.com/octo/hello",
		Provider:      domain.ProviderGitHub,
		LastPhase:     domain.PhaseComplete,
		Counts:        domain.ImportCounts{RepoEvents: 2, Issues: 3, PullRequests: 1, Comments: 4, Statuses: 1},
		Published:     11,
		PublishFailed: 1,
		Warnings:      []string{"issue 7: missing creation time"},
		StartedAt:     base,
		FinishedAt:    base.Add(time.Minute),
	}
	require.NoError(t, runs.SaveRun(ctx, full))
	require.NoError(t, runs.SaveRun(ctx, domain.ImportRun{
		ID:        "run-2",
		SourceURL: "https://gitlab.com/group/proj",
		Error:     "auth failed",
		StartedAt: base.Add(time.Hour),
	}))

	got, err := runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, full.Counts, got.Counts)
	assert.Equal(t, full.Warnings, got.Warnings)
	assert.Equal(t, domain.ProviderGitHub, got.Provider)
	assert.True(t, full.FinishedAt.Equal(got.FinishedAt))

	_, err = runs.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := runs.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].ID)
	assert.True(t, list[0].FinishedAt.IsZero())
	assert.Nil(t, list[0].Warnings)

	limited, err := runs.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	full.Error = "replaced"
	require.NoError(t, runs.SaveRun(ctx, full))
	got, _ = runs.GetRun(ctx, "run-1")
	assert.Equal(t, "replaced", got.Error)
}
