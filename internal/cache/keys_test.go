package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stencilkit/stencil/internal/types"
)

func testContext() *types.GeneratorContext {
	return &types.GeneratorContext{
		Project: types.ProjectMeta{
			Name:       "shop",
			Version:    "1.2.3",
			OutputRoot: "./out",
		},
	}
}

func TestDefaultKeyStrategy(t *testing.T) {
	tmpl := &types.Template{ID: "model", Source: []byte("source text")}

	t.Run("stable across calls", func(t *testing.T) {
		gctx := testContext()
		assert.Equal(t, DefaultKeyStrategy(tmpl, gctx), DefaultKeyStrategy(tmpl, gctx))
	})

	t.Run("namespaced", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(DefaultKeyStrategy(tmpl, testContext()), "artifact:"))
	})

	// No-false-hit property: any semantic difference in the inputs must
	// change the key.
	t.Run("distinct inputs never collide", func(t *testing.T) {
		base := DefaultKeyStrategy(tmpl, testContext())

		otherID := &types.Template{ID: "model2", Source: []byte("source text")}
		assert.NotEqual(t, base, DefaultKeyStrategy(otherID, testContext()))

		otherSource := &types.Template{ID: "model", Source: []byte("different text")}
		assert.NotEqual(t, base, DefaultKeyStrategy(otherSource, testContext()))

		otherVersion := testContext()
		otherVersion.Project.Version = "2.0.0"
		assert.NotEqual(t, base, DefaultKeyStrategy(tmpl, otherVersion))

		otherName := testContext()
		otherName.Project.Name = "warehouse"
		assert.NotEqual(t, base, DefaultKeyStrategy(tmpl, otherName))
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		// id "ab" + source "c" must not hash like id "a" + source "bc".
		a := DefaultKeyStrategy(&types.Template{ID: "ab", Source: []byte("c")}, testContext())
		b := DefaultKeyStrategy(&types.Template{ID: "a", Source: []byte("bc")}, testContext())
		assert.NotEqual(t, a, b)
	})
}

func TestSourceFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.tpl")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	t.Run("stable for unchanged file", func(t *testing.T) {
		k1, err := SourceFingerprint(path)
		require.NoError(t, err)
		k2, err := SourceFingerprint(path)
		require.NoError(t, err)
		assert.Equal(t, k1, k2)
	})

	t.Run("changes when the file changes", func(t *testing.T) {
		before, err := SourceFingerprint(path)
		require.NoError(t, err)

		// A different size guarantees a new fingerprint even on
		// filesystems with coarse mtime granularity.
		require.NoError(t, os.WriteFile(path, []byte("second, longer content"), 0o644))

		after, err := SourceFingerprint(path)
		require.NoError(t, err)
		assert.NotEqual(t, before, after)
	})

	t.Run("covered by the path prefix", func(t *testing.T) {
		key, err := SourceFingerprint(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, SourceKeyPrefix(path)))
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := SourceFingerprint(filepath.Join(dir, "absent.tpl"))
		assert.Error(t, err)
	})
}

func TestArtifactEncoding(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		artifact := &types.Artifact{
			Path:        "out/model.go",
			Content:     []byte("package model"),
			ContentHash: "abc123",
		}
		data, err := EncodeArtifact(artifact)
		require.NoError(t, err)

		decoded, err := DecodeArtifact(data)
		require.NoError(t, err)
		assert.Equal(t, artifact, decoded)
	})

	t.Run("garbage decodes to a cache error", func(t *testing.T) {
		_, err := DecodeArtifact([]byte("\xff\xff not msgpack"))
		assert.Error(t, err)
	})
}
