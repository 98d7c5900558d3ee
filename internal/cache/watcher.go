package cache

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stencilkit/stencil/internal/logging"
	"github.com/stencilkit/stencil/internal/types"
)

// SourceWatcher invalidates cache entries when the template source files
// they were fingerprinted from change on disk. It is an optional memory
// hygiene layer: fingerprint keys already go stale on modification, the
// watcher just reclaims the space eagerly and drops compiled artifacts
// derived from the changed source.
type SourceWatcher struct {
	cache   *ArtifactCache
	watcher *fsnotify.Watcher
	logger  logging.Logger

	mu sync.Mutex
	// keysByPath maps a watched path to the artifact keys derived from it.
	keysByPath map[string][]string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSourceWatcher creates a watcher bound to the given cache.
func NewSourceWatcher(cache *ArtifactCache, logger logging.Logger) (*SourceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SourceWatcher{
		cache:      cache,
		watcher:    fsw,
		logger:     logger.WithComponent("cache-watcher"),
		keysByPath: make(map[string][]string),
		done:       make(chan struct{}),
	}, nil
}

// Track registers a source path and the artifact cache keys derived from
// it. When the file changes, those keys and every fingerprint for the
// path are invalidated.
func (w *SourceWatcher) Track(path string, artifactKeys ...string) error {
	w.mu.Lock()
	_, known := w.keysByPath[path]
	w.keysByPath[path] = append(w.keysByPath[path], artifactKeys...)
	w.mu.Unlock()

	if known {
		return nil
	}
	return w.watcher.Add(path)
}

// TrackTemplates registers every file-backed template in the batch,
// pairing each source path with the artifact key the template renders
// under so a source edit drops the compiled artifact too. In-memory
// templates are skipped.
func (w *SourceWatcher) TrackTemplates(templates []*types.Template, gctx *types.GeneratorContext, keyFor KeyStrategy) error {
	if keyFor == nil {
		keyFor = DefaultKeyStrategy
	}
	for _, tmpl := range templates {
		if tmpl.SourcePath == "" {
			continue
		}
		if err := w.Track(tmpl.SourcePath, keyFor(tmpl, gctx)); err != nil {
			return err
		}
	}
	return nil
}

// Start begins the event loop. Stop tears it down.
func (w *SourceWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
					w.invalidate(ctx, event.Name)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn(ctx, err, "source watch error")
			}
		}
	}()
}

// Stop shuts down the event loop and the underlying watcher.
func (w *SourceWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.watcher.Close()
	<-w.done
}

func (w *SourceWatcher) invalidate(ctx context.Context, path string) {
	w.mu.Lock()
	keys := append([]string(nil), w.keysByPath[path]...)
	w.mu.Unlock()

	removed := w.cache.InvalidatePrefix(SourceKeyPrefix(path))
	for _, key := range keys {
		w.cache.Invalidate(key)
	}

	w.logger.Debug(ctx, "invalidated cache entries for changed source",
		"path", path, "fingerprints", removed, "artifact_keys", len(keys))
}
