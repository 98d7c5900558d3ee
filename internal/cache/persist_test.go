package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.snapshot")

	c := New(1024*1024, time.Hour)
	c.Set("artifact:one", []byte("alpha"))
	c.Set("artifact:two", []byte("beta"))
	c.SetTTL("pinned", []byte("gamma"), 0)

	require.NoError(t, c.SaveSnapshot(path))

	warm := New(1024*1024, time.Hour)
	loaded, err := warm.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)

	for key, want := range map[string]string{
		"artifact:one": "alpha",
		"artifact:two": "beta",
		"pinned":       "gamma",
	} {
		value, ok := warm.Get(key)
		require.True(t, ok, "key %s should load", key)
		assert.Equal(t, []byte(want), value)
	}
}

func TestSnapshot_SkipsExpired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.snapshot")

	c := New(1024, time.Hour)
	c.SetTTL("fleeting", []byte("x"), 5*time.Millisecond)
	c.Set("durable", []byte("y"))
	time.Sleep(15 * time.Millisecond)

	require.NoError(t, c.SaveSnapshot(path))

	warm := New(1024, time.Hour)
	loaded, err := warm.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.False(t, warm.Has("fleeting"))
	assert.True(t, warm.Has("durable"))
}

func TestSnapshot_MissingFileIsNotAnError(t *testing.T) {
	c := New(1024, time.Hour)
	loaded, err := c.LoadSnapshot(filepath.Join(t.TempDir(), "never-written"))
	require.NoError(t, err)
	assert.Zero(t, loaded)
}

func TestSnapshot_CorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))

	c := New(1024, time.Hour)
	_, err := c.LoadSnapshot(path)
	assert.Error(t, err)
}

func TestSnapshot_VersionMismatchDiscarded(t *testing.T) {
	// A snapshot written by a different layout version must be ignored,
	// not half-loaded.
	path := filepath.Join(t.TempDir(), "cache.snapshot")

	future := snapshot{
		Version: snapshotVersion + 1,
		SavedAt: time.Now(),
		Entries: []snapshotEntry{{Key: "k", Value: []byte("v"), CreatedAt: time.Now()}},
	}
	data, err := msgpack.Marshal(&future)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c := New(1024, time.Hour)
	loaded, err := c.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Zero(t, loaded)
	assert.False(t, c.Has("k"))
}
