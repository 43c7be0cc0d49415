package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ConfigStore {
	t.Helper()
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNewConfigStore_Success(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewConfigStore(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "config.toml"), store.Path())
}

func TestNewConfigStore_MkdirAllError(t *testing.T) {
	store, err := NewConfigStore("/dev/null/cannot/create/dirs")

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestNewConfigStore_LoadCorruptedFile(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("this is not valid TOML {{{[["), 0600)
	require.NoError(t, err)

	store, err := NewConfigStore(tmpDir)

	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("sync.max_retries", 5))
	require.NoError(t, store.Set("sync.seconds_between_requests", 0.5))
	require.NoError(t, store.Set("relay.batch_delay", "300ms"))
	require.NoError(t, store.Set("sync.secondary_rate_wait", 90))
	require.NoError(t, store.Set("import.publish_profile", true))
	require.NoError(t, store.Set("relay.urls", []string{"wss://a", "wss://b"}))

	// Reload from disk to exercise TOML types.
	reloaded, err := NewConfigStore(filepath.Dir(store.Path()))
	require.NoError(t, err)

	assert.Equal(t, 5, reloaded.GetInt("sync.max_retries"))
	assert.InDelta(t, 0.5, reloaded.GetFloat("sync.seconds_between_requests"), 1e-9)
	assert.InDelta(t, 5.0, reloaded.GetFloat("sync.max_retries"), 1e-9)
	assert.Equal(t, 300*time.Millisecond, reloaded.GetDuration("relay.batch_delay"))
	assert.Equal(t, 90*time.Second, reloaded.GetDuration("sync.secondary_rate_wait"))
	assert.True(t, reloaded.GetBool("import.publish_profile"))
	assert.Equal(t, []string{"wss://a", "wss://b"}, reloaded.GetStringSlice("relay.urls"))

	t.Run("missing and mistyped keys return zero values", func(t *testing.T) {
		assert.Equal(t, "", reloaded.GetString("nope"))
		assert.Equal(t, 0, reloaded.GetInt("relay.batch_delay"))
		assert.Equal(t, float64(0), reloaded.GetFloat("relay.batch_delay"))
		assert.False(t, reloaded.GetBool("sync.max_retries"))
		assert.Nil(t, reloaded.GetStringSlice("sync.max_retries"))
		assert.Equal(t, time.Duration(0), reloaded.GetDuration("import.publish_profile"))
	})

	t.Run("unparseable duration string", func(t *testing.T) {
		require.NoError(t, store.Set("bad", "soon"))
		assert.Equal(t, time.Duration(0), store.GetDuration("bad"))
	})
}

func TestConfigStore_NestedTablesAreFlattened(t *testing.T) {
	tmpDir := t.TempDir()
	content := []byte("[sync]\nmax_retries = 7\n\n[relay]\nbatch_size = 12\n")
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), content, 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 7, store.GetInt("sync.max_retries"))
	assert.Equal(t, 12, store.GetInt("relay.batch_size"))
}

func TestConfigStore_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte{}, 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	_, ok := store.Get("any_key")
	assert.False(t, ok)
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("test", "value"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_Save_WriteFileError(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("test", "value"))

	require.NoError(t, os.Remove(store.Path()))
	require.NoError(t, os.Mkdir(store.Path(), 0700))

	assert.Error(t, store.Set("another", "value"))
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := newTestStore(t)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			key := "key" + string(rune('0'+id))
			_ = store.Set(key, id)
			_ = store.GetInt(key)
			_ = store.GetFloat(key)
			_ = store.GetDuration(key)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestConfigStore_Watch(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("sync.max_retries", 3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func() { reloads.Add(1) })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(store.Path(), []byte("[sync]\nmax_retries = 9\n"), 0600))

	require.Eventually(t, func() bool {
		return reloads.Load() > 0 && store.GetInt("sync.max_retries") == 9
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestConfigStore_Watch_IgnoresOtherFiles(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	go func() { _ = store.Watch(ctx, func() { reloads.Add(1) }) }()

	time.Sleep(100 * time.Millisecond)
	other := filepath.Join(filepath.Dir(store.Path()), "other.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0600))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
