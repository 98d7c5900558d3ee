package cache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	stencilerrors "github.com/stencilkit/stencil/internal/errors"
)

// snapshotVersion is bumped whenever the snapshot layout changes; a
// mismatched snapshot is discarded rather than migrated.
const snapshotVersion = 1

type snapshot struct {
	Version int             `msgpack:"version"`
	SavedAt time.Time       `msgpack:"saved_at"`
	Entries []snapshotEntry `msgpack:"entries"`
}

type snapshotEntry struct {
	Key       string        `msgpack:"key"`
	Value     []byte        `msgpack:"value"`
	CreatedAt time.Time     `msgpack:"created_at"`
	TTL       time.Duration `msgpack:"ttl"`
}

// SaveSnapshot writes all live, unexpired entries to path so a later
// process can warm-start. The write goes through a temp file and rename
// so a crash never leaves a torn snapshot.
func (c *ArtifactCache) SaveSnapshot(path string) error {
	c.mu.Lock()
	now := time.Now()
	snap := snapshot{Version: snapshotVersion, SavedAt: now}
	for _, e := range c.entries {
		if e.expired(now) {
			continue
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			Key:       e.key,
			Value:     e.value,
			CreatedAt: e.createdAt,
			TTL:       e.ttl,
		})
	}
	c.mu.Unlock()

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCachePersist, "failed to encode cache snapshot", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCachePersist, "failed to create snapshot directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCachePersist, "failed to write cache snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCachePersist, "failed to finalize cache snapshot", err)
	}
	return nil
}

// LoadSnapshot merges a previously saved snapshot into the cache.
// Expired entries are skipped; entry creation times are preserved so TTLs
// keep counting from the original store. A missing file is not an error.
func (c *ArtifactCache) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCachePersist, "failed to read cache snapshot", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return 0, stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCachePersist, "failed to decode cache snapshot", err)
	}
	if snap.Version != snapshotVersion {
		return 0, nil
	}

	now := time.Now()
	loaded := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, se := range snap.Entries {
		if se.TTL > 0 && now.Sub(se.CreatedAt) > se.TTL {
			continue
		}
		c.setLocked(se.Key, se.Value, se.TTL, se.CreatedAt)
		loaded++
	}
	return loaded, nil
}
