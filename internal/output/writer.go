// Package output writes rendered artifacts to persistent storage. The
// pipeline core hands back in-memory artifacts; this is the file-system
// collaborator glue that materializes them.
package output

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/stencilkit/stencil/internal/types"
)

// Writer persists artifacts through an afero filesystem, so tests run
// against an in-memory backend.
type Writer struct {
	fs afero.Fs
}

// NewWriter creates a writer over the given filesystem. A nil fs uses
// the OS filesystem.
func NewWriter(fs afero.Fs) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs}
}

// Write persists one artifact, creating parent directories as needed.
func (w *Writer) Write(artifact *types.Artifact) error {
	dir := filepath.Dir(artifact.Path)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	if err := afero.WriteFile(w.fs, artifact.Path, artifact.Content, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", artifact.Path, err)
	}
	return nil
}

// WriteAll persists every artifact, stopping on the first error.
// Returns the number written.
func (w *Writer) WriteAll(artifacts []types.Artifact) (int, error) {
	for i := range artifacts {
		if err := w.Write(&artifacts[i]); err != nil {
			return i, err
		}
	}
	return len(artifacts), nil
}
