package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stencilkit/stencil/internal/types"
)

func TestSourceWatcher_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "model.tmpl")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0o644))

	c := New(1024*1024, time.Hour)

	fp, err := SourceFingerprint(src)
	require.NoError(t, err)
	c.Set(fp, []byte("parsed"))
	c.Set("artifact:abc", []byte("compiled"))
	c.Set("artifact:unrelated", []byte("other"))

	w, err := NewSourceWatcher(c, nil)
	require.NoError(t, err)
	require.NoError(t, w.Track(src, "artifact:abc"))
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(src, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		return !c.Has(fp) && !c.Has("artifact:abc")
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, c.Has("artifact:unrelated"), "unrelated entries must survive")
}

func TestSourceWatcher_RemoveInvalidates(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.tmpl")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0o644))

	c := New(1024*1024, time.Hour)
	fp, err := SourceFingerprint(src)
	require.NoError(t, err)
	c.Set(fp, []byte("parsed"))

	w, err := NewSourceWatcher(c, nil)
	require.NoError(t, err)
	require.NoError(t, w.Track(src))
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.Remove(src))

	require.Eventually(t, func() bool {
		return !c.Has(fp)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSourceWatcher_TrackAccumulatesKeys(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "multi.tmpl")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0o644))

	c := New(1024*1024, time.Hour)
	c.Set("artifact:one", []byte("1"))
	c.Set("artifact:two", []byte("2"))

	w, err := NewSourceWatcher(c, nil)
	require.NoError(t, err)
	// Tracking the same path twice merges keys instead of re-adding the
	// watch.
	require.NoError(t, w.Track(src, "artifact:one"))
	require.NoError(t, w.Track(src, "artifact:two"))
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(src, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		return !c.Has("artifact:one") && !c.Has("artifact:two")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSourceWatcher_TrackTemplates(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "model.tmpl")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0o644))

	gctx := testContext()
	fileBacked := &types.Template{ID: "model", SourcePath: src, Source: []byte("v1")}
	inMemory := &types.Template{ID: "inline", Source: []byte("body")}

	c := New(1024*1024, time.Hour)
	artifactKey := DefaultKeyStrategy(fileBacked, gctx)
	c.Set(artifactKey, []byte("compiled"))

	w, err := NewSourceWatcher(c, nil)
	require.NoError(t, err)
	require.NoError(t, w.TrackTemplates([]*types.Template{fileBacked, inMemory}, gctx, nil))
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(src, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		return !c.Has(artifactKey)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSourceWatcher_StopIsIdempotentSafe(t *testing.T) {
	c := New(1024, time.Hour)
	w, err := NewSourceWatcher(c, nil)
	require.NoError(t, err)
	w.Start(context.Background())
	w.Stop()
}
