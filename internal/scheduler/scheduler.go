// Package scheduler implements the worker pool that executes templates
// concurrently in dependency order.
//
// Each work item moves through Pending -> Ready -> Running -> Completed
// or Failed. A topological frontier keeps items Ready only once every
// dependency has reached a terminal state; at most MaxConcurrency items
// run at once. Execution is cache-aware: a compiled-artifact hit
// synthesizes the result without invoking the renderer.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	stencilcache "github.com/stencilkit/stencil/internal/cache"
	stencilerrors "github.com/stencilkit/stencil/internal/errors"
	"github.com/stencilkit/stencil/internal/interfaces"
	"github.com/stencilkit/stencil/internal/logging"
	"github.com/stencilkit/stencil/internal/registry"
	"github.com/stencilkit/stencil/internal/types"
)

// ItemState is the scheduling state of one work item.
type ItemState int

const (
	StatePending ItemState = iota
	StateReady
	StateRunning
	StateCompleted
	StateFailed
)

// String returns the string representation of the state.
func (s ItemState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures one ProcessTemplates run.
type Options struct {
	// MaxConcurrency bounds simultaneously Running items. Values below
	// one are treated as one.
	MaxConcurrency int
	// StrictMode propagates a dependency failure to all transitive
	// dependents, marking them Failed without execution. The default is
	// lenient: dependents run anyway and carry a diagnostic linking the
	// upstream failure.
	StrictMode bool
	// RenderTimeout bounds a single render. Zero disables it.
	RenderTimeout time.Duration
	// SettleTimeout bounds how long cancellation waits for in-flight
	// renders before marking them failed. Zero uses a default.
	SettleTimeout time.Duration
}

// PoolStats is a best-effort snapshot of the pool. Reads never block
// workers; values may be slightly stale.
type PoolStats struct {
	MaxWorkers            int
	ActiveWorkers         int
	QueuedCount           int
	CompletedCount        int
	TotalCount            int
	LastMemorySampleBytes uint64
}

// WorkerPoolScheduler owns the execution slots for template processing.
// One scheduler handles one run at a time; Stats, HealthCheck, and
// Cleanup are safe to call concurrently with a run.
type WorkerPoolScheduler struct {
	cache  interfaces.ArtifactCache
	keyFor stencilcache.KeyStrategy
	logger logging.Logger

	mu      sync.Mutex
	current *run

	lastMemSample  uint64
	memSampleNanos int64
}

// New creates a scheduler. The cache may be nil, disabling cache-aware
// execution; a nil key strategy falls back to the default.
func New(artifacts interfaces.ArtifactCache, keyFor stencilcache.KeyStrategy, logger logging.Logger) *WorkerPoolScheduler {
	if keyFor == nil {
		keyFor = stencilcache.DefaultKeyStrategy
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &WorkerPoolScheduler{
		cache:  artifacts,
		keyFor: keyFor,
		logger: logger.WithComponent("scheduler"),
	}
}

type workItem struct {
	tmpl  *types.Template
	state ItemState
	// remaining counts unsatisfied in-batch dependencies.
	remaining int
	// dependents lists in-batch items that depend on this one.
	dependents []*workItem
	// upstreamFailures records dependency IDs that reached Failed.
	upstreamFailures []string
	result           *types.ProcessingResult
}

type run struct {
	items     map[string]*workItem
	order     []string
	total     int
	startedNS int64

	readyCh chan *workItem
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	mu            sync.Mutex
	terminalCount int
	doneCh        chan struct{}

	maxWorkers     int
	active         int64
	completed      int64
	lastTerminalNS int64

	cancelled int32
}

// ProcessTemplates executes a dependency-ordered batch and returns one
// ProcessingResult per template, in input order. The caller is expected
// to have validated the batch: unknown dependency references are treated
// as already satisfied here.
func (s *WorkerPoolScheduler) ProcessTemplates(ctx context.Context, templates []*types.Template, gctx *types.GeneratorContext, opts Options) []types.ProcessingResult {
	if len(templates) == 0 {
		return nil
	}

	maxWorkers := opts.MaxConcurrency
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	r := newRun(templates, maxWorkers)
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	s.logger.Info(ctx, "starting batch",
		"templates", r.total, "max_workers", maxWorkers, "strict", opts.StrictMode)

	// Seed the frontier with items that have no unmet dependency.
	r.mu.Lock()
	for _, id := range r.order {
		item := r.items[id]
		if item.remaining == 0 {
			item.state = StateReady
			r.readyCh <- item
		}
	}
	r.mu.Unlock()

	go s.dispatch(ctx, r, gctx, opts)

	select {
	case <-r.doneCh:
		if atomic.LoadInt32(&r.cancelled) != 0 {
			// Cleanup settled the run; a renderer ignoring its timeout
			// must not wedge the caller.
			r.waitBounded(opts.SettleTimeout)
		} else {
			r.wg.Wait()
		}
	case <-ctx.Done():
		s.cancelRun(ctx, r, opts)
		r.waitBounded(opts.SettleTimeout)
	}
	return r.collect()
}

func newRun(templates []*types.Template, maxWorkers int) *run {
	r := &run{
		items:      make(map[string]*workItem, len(templates)),
		order:      make([]string, 0, len(templates)),
		total:      len(templates),
		startedNS:  time.Now().UnixNano(),
		readyCh:    make(chan *workItem, len(templates)),
		sem:        semaphore.NewWeighted(int64(maxWorkers)),
		doneCh:     make(chan struct{}),
		maxWorkers: maxWorkers,
	}

	for _, tmpl := range templates {
		r.items[tmpl.ID] = &workItem{tmpl: tmpl}
		r.order = append(r.order, tmpl.ID)
	}
	for _, tmpl := range templates {
		item := r.items[tmpl.ID]
		for _, dep := range tmpl.DependsOn {
			if depItem, ok := r.items[dep]; ok {
				item.remaining++
				depItem.dependents = append(depItem.dependents, item)
			}
		}
	}
	return r
}

// dispatch pulls Ready items off the frontier and launches them under
// the concurrency semaphore until the run finishes or is cancelled.
func (s *WorkerPoolScheduler) dispatch(ctx context.Context, r *run, gctx *types.GeneratorContext, opts Options) {
	for {
		select {
		case <-r.doneCh:
			return
		case <-ctx.Done():
			return
		case item := <-r.readyCh:
			if atomic.LoadInt32(&r.cancelled) != 0 {
				// The item must still reach a terminal state or doneCh
				// never closes; the cancellation sweep handles the rest
				// of the frontier by state.
				r.mu.Lock()
				if item.state == StateReady {
					s.timeoutItemLocked(r, item)
				}
				r.mu.Unlock()
				return
			}
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return
			}
			r.wg.Add(1)
			go func(item *workItem) {
				defer r.wg.Done()
				defer r.sem.Release(1)
				s.execute(ctx, r, item, gctx, opts)
			}(item)
		}
	}
}

// execute runs one item: cache probe, then render with the per-item
// timeout, then terminal-state accounting.
func (s *WorkerPoolScheduler) execute(ctx context.Context, r *run, item *workItem, gctx *types.GeneratorContext, opts Options) {
	r.mu.Lock()
	if item.state != StateReady {
		r.mu.Unlock()
		return
	}
	item.state = StateRunning
	upstream := append([]string(nil), item.upstreamFailures...)
	r.mu.Unlock()

	atomic.AddInt64(&r.active, 1)
	defer atomic.AddInt64(&r.active, -1)

	started := time.Now()
	result := types.ProcessingResult{
		TemplateID: item.tmpl.ID,
		StartedAt:  started,
	}

	// Lenient mode still surfaces which dependencies failed before us.
	for _, dep := range upstream {
		result.Diagnostics = append(result.Diagnostics, types.Diagnostic{
			Severity:   types.SeverityWarning,
			Message:    fmt.Sprintf("dependency %q failed before this template ran", dep),
			TemplateID: dep,
		})
	}

	artifact, cacheHit, err := s.render(ctx, item.tmpl, gctx, opts)
	result.CacheHit = cacheHit
	now := time.Now()
	result.CompletedAt = now
	result.Duration = now.Sub(started)

	if err != nil {
		result.Success = false
		code := stencilerrors.ErrCodeRenderFailed
		if stencilerrors.IsType(err, stencilerrors.ErrorTypeTimeout) {
			code = stencilerrors.ErrCodeRenderTimeout
		}
		result.Diagnostics = append(result.Diagnostics, types.Diagnostic{
			Severity:   types.SeverityError,
			Message:    fmt.Sprintf("[%s] %v", code, err),
			TemplateID: item.tmpl.ID,
		})
		s.logger.Warn(ctx, err, "template failed", "template", item.tmpl.ID)
	} else {
		result.Success = true
		result.Outputs = []types.Artifact{*artifact}
	}

	s.complete(ctx, r, item, &result, opts)
}

// render performs the cache-aware execution of one template. The render
// context is detached from run cancellation so cooperative cancellation
// lets in-flight work finish; only the per-item timeout applies.
func (s *WorkerPoolScheduler) render(ctx context.Context, tmpl *types.Template, gctx *types.GeneratorContext, opts Options) (*types.Artifact, bool, error) {
	var key string
	if s.cache != nil {
		key = s.keyFor(tmpl, gctx)
		if data, ok := s.cache.Get(key); ok {
			artifact, err := stencilcache.DecodeArtifact(data)
			if err == nil {
				return artifact, true, nil
			}
			// Treat a decode failure as a miss and drop the bad entry.
			s.cache.Invalidate(key)
			s.logger.Warn(ctx, err, "evicted undecodable cache entry", "template", tmpl.ID)
		}
	}

	renderCtx := context.WithoutCancel(ctx)
	if opts.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(renderCtx, opts.RenderTimeout)
		defer cancel()
	}

	artifact, err := tmpl.Renderer.Render(renderCtx, tmpl, gctx)
	if err != nil {
		if renderCtx.Err() != nil {
			return nil, false, stencilerrors.NewTimeoutError(
				stencilerrors.ErrCodeRenderTimeout,
				fmt.Sprintf("render exceeded %s", opts.RenderTimeout)).WithTemplate(tmpl.ID)
		}
		return nil, false, stencilerrors.NewRenderError(
			stencilerrors.ErrCodeRenderFailed, "renderer returned an error", err).WithTemplate(tmpl.ID)
	}

	if artifact.Path == "" {
		resolved, perr := registry.ResolveTargetPath(tmpl.TargetPathPattern, gctx)
		if perr != nil {
			return nil, false, stencilerrors.NewRenderError(
				stencilerrors.ErrCodeRenderFailed, "could not resolve target path", perr).WithTemplate(tmpl.ID)
		}
		artifact.Path = resolved
	}

	if s.cache != nil {
		if data, encErr := stencilcache.EncodeArtifact(&artifact); encErr == nil {
			s.cache.Set(key, data)
		}
	}
	return &artifact, false, nil
}

// complete transitions an item to its terminal state and advances the
// frontier: dependents whose remaining count reaches zero become Ready,
// or are failed transitively in strict mode.
func (s *WorkerPoolScheduler) complete(ctx context.Context, r *run, item *workItem, result *types.ProcessingResult, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.state == StateCompleted || item.state == StateFailed {
		// Terminal already (cancellation settled it first); the late
		// render result is discarded.
		return
	}

	if result.Success {
		item.state = StateCompleted
	} else {
		item.state = StateFailed
	}
	item.result = result
	r.noteTerminalLocked()

	for _, dep := range item.dependents {
		if item.state == StateFailed {
			dep.upstreamFailures = append(dep.upstreamFailures, item.tmpl.ID)
		}
		dep.remaining--
		if dep.remaining > 0 || dep.state != StatePending {
			continue
		}

		if atomic.LoadInt32(&r.cancelled) != 0 {
			s.failWithoutRunLocked(r, dep, types.Diagnostic{
				Severity:   types.SeverityError,
				Message:    fmt.Sprintf("[%s] run cancelled before this template could start", stencilerrors.ErrCodeRunCancelled),
				TemplateID: dep.tmpl.ID,
			})
			continue
		}
		if opts.StrictMode && len(dep.upstreamFailures) > 0 {
			s.failWithoutRunLocked(r, dep, types.Diagnostic{
				Severity: types.SeverityError,
				Message: fmt.Sprintf("[%s] dependency %q failed in strict mode",
					stencilerrors.ErrCodeUpstreamFailed, dep.upstreamFailures[0]),
				TemplateID: dep.upstreamFailures[0],
			})
			continue
		}

		dep.state = StateReady
		r.readyCh <- dep
	}
}

// failWithoutRunLocked marks an item Failed without execution and
// cascades through its dependents. Caller holds r.mu.
func (s *WorkerPoolScheduler) failWithoutRunLocked(r *run, item *workItem, diag types.Diagnostic) {
	item.state = StateFailed
	item.result = &types.ProcessingResult{
		TemplateID:  item.tmpl.ID,
		Success:     false,
		Diagnostics: []types.Diagnostic{diag},
	}
	r.noteTerminalLocked()

	for _, dep := range item.dependents {
		dep.upstreamFailures = append(dep.upstreamFailures, item.tmpl.ID)
		dep.remaining--
		if dep.remaining == 0 && dep.state == StatePending {
			s.failWithoutRunLocked(r, dep, types.Diagnostic{
				Severity: types.SeverityError,
				Message: fmt.Sprintf("[%s] dependency %q failed in strict mode",
					stencilerrors.ErrCodeUpstreamFailed, item.tmpl.ID),
				TemplateID: item.tmpl.ID,
			})
		}
	}
}

func (r *run) noteTerminalLocked() {
	r.terminalCount++
	atomic.AddInt64(&r.completed, 1)
	atomic.StoreInt64(&r.lastTerminalNS, time.Now().UnixNano())
	if r.terminalCount == r.total {
		close(r.doneCh)
	}
}

// collect assembles results in input order. Items that never produced a
// result (should not happen outside scheduler bugs) get a failed result
// so callers always see one entry per template.
func (r *run) collect() []types.ProcessingResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]types.ProcessingResult, 0, r.total)
	for _, id := range r.order {
		item := r.items[id]
		if item.result != nil {
			results = append(results, *item.result)
			continue
		}
		results = append(results, types.ProcessingResult{
			TemplateID: id,
			Success:    false,
			Diagnostics: []types.Diagnostic{{
				Severity:   types.SeverityError,
				Message:    "template was never scheduled",
				TemplateID: id,
			}},
		})
	}
	return results
}
