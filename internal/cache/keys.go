package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	stencilerrors "github.com/stencilkit/stencil/internal/errors"
	"github.com/stencilkit/stencil/internal/types"
)

// Namespace prefixes keep the two logical caches from colliding inside
// the shared store.
const (
	artifactPrefix = "artifact:"
	sourcePrefix   = "source:"
)

// KeyStrategy derives the compiled-artifact cache key for a template in a
// context. The strategy is pluggable; the only hard requirement is the
// no-false-hit property: distinct semantic inputs must never collide.
type KeyStrategy func(tmpl *types.Template, gctx *types.GeneratorContext) string

// DefaultKeyStrategy hashes the template id, the template source bytes,
// and the context fields a render can observe through the project
// metadata. Stable across runs so warm caches survive restarts.
func DefaultKeyStrategy(tmpl *types.Template, gctx *types.GeneratorContext) string {
	h := sha256.New()
	h.Write([]byte(tmpl.ID))
	h.Write([]byte{0})
	h.Write(tmpl.Source)
	h.Write([]byte{0})
	h.Write([]byte(gctx.Project.Name))
	h.Write([]byte{0})
	h.Write([]byte(gctx.Project.Version))
	h.Write([]byte{0})
	h.Write([]byte(gctx.Project.OutputRoot))
	return artifactPrefix + hex.EncodeToString(h.Sum(nil))
}

// SourceFingerprint returns the parsed-source cache key for a file:
// path plus modification-time and size fingerprint. A changed file gets a
// new key, so stale entries simply stop being referenced.
func SourceFingerprint(path string) (string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s:%d:%d", sourcePrefix, path, stat.ModTime().UnixNano(), stat.Size()), nil
}

// SourceKeyPrefix returns the key prefix covering every fingerprint ever
// issued for path. The invalidation watcher drops entries by this prefix.
func SourceKeyPrefix(path string) string {
	return sourcePrefix + path + ":"
}

// EncodeArtifact serializes an artifact for cache storage.
func EncodeArtifact(artifact *types.Artifact) ([]byte, error) {
	data, err := msgpack.Marshal(artifact)
	if err != nil {
		return nil, stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCacheDecode, "failed to encode artifact", err)
	}
	return data, nil
}

// DecodeArtifact deserializes a cached artifact. A decode failure is a
// cache error, which callers treat as a miss.
func DecodeArtifact(data []byte) (*types.Artifact, error) {
	var artifact types.Artifact
	if err := msgpack.Unmarshal(data, &artifact); err != nil {
		return nil, stencilerrors.NewCacheError(
			stencilerrors.ErrCodeCacheDecode, "failed to decode cached artifact", err)
	}
	return &artifact, nil
}
