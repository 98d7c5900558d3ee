package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	stencilerrors "github.com/stencilkit/stencil/internal/errors"
	"github.com/stencilkit/stencil/internal/types"
)

const defaultSettleTimeout = 10 * time.Second

// cancelRun settles a run after its context was cancelled or timed out.
// No new Ready transitions happen once the cancelled flag is set;
// in-flight renders get a bounded grace window to finish, and everything
// still non-terminal afterwards is failed with a timeout diagnostic.
func (s *WorkerPoolScheduler) cancelRun(ctx context.Context, r *run, opts Options) {
	atomic.StoreInt32(&r.cancelled, 1)

	settle := opts.SettleTimeout
	if settle <= 0 {
		settle = defaultSettleTimeout
	}

	// Items that were never started can be failed right away.
	r.mu.Lock()
	for _, id := range r.order {
		item := r.items[id]
		if item.state == StatePending || item.state == StateReady {
			s.timeoutItemLocked(r, item)
		}
	}
	running := r.terminalCount < r.total
	r.mu.Unlock()

	if !running {
		return
	}

	// Grace window for in-flight renders.
	select {
	case <-r.doneCh:
		return
	case <-time.After(settle):
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		item := r.items[id]
		if item.state == StateRunning {
			s.timeoutItemLocked(r, item)
		}
	}
	s.logger.Warn(ctx, context.Cause(ctx), "run cancelled before completion",
		"settled", r.terminalCount, "total", r.total)
}

// timeoutItemLocked marks one non-terminal item Failed with a timeout
// diagnostic. Caller holds r.mu.
func (s *WorkerPoolScheduler) timeoutItemLocked(r *run, item *workItem) {
	state := item.state
	item.state = StateFailed
	item.result = &types.ProcessingResult{
		TemplateID: item.tmpl.ID,
		Success:    false,
		Diagnostics: []types.Diagnostic{{
			Severity: types.SeverityError,
			Message: fmt.Sprintf("[%s] run deadline expired while %s",
				stencilerrors.ErrCodeRunTimeout, state),
			TemplateID: item.tmpl.ID,
		}},
	}
	r.noteTerminalLocked()
}

// waitBounded waits for in-flight goroutines up to timeout.
func (r *run) waitBounded(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}
	settled := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(timeout):
	}
}

// Stats returns a best-effort snapshot of the pool. Safe to call at any
// time, including while no run is active.
func (s *WorkerPoolScheduler) Stats() PoolStats {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()

	stats := PoolStats{LastMemorySampleBytes: s.sampleMemory()}
	if r == nil {
		return stats
	}

	stats.MaxWorkers = r.maxWorkers
	stats.ActiveWorkers = int(atomic.LoadInt64(&r.active))
	stats.QueuedCount = len(r.readyCh)
	stats.CompletedCount = int(atomic.LoadInt64(&r.completed))
	stats.TotalCount = r.total
	return stats
}

// sampleMemory reads the heap size at most once per second so frequent
// Stats polling stays cheap.
func (s *WorkerPoolScheduler) sampleMemory() uint64 {
	now := time.Now().UnixNano()
	last := atomic.LoadInt64(&s.memSampleNanos)
	if now-last < int64(time.Second) {
		return atomic.LoadUint64(&s.lastMemSample)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	atomic.StoreUint64(&s.lastMemSample, stats.Alloc)
	atomic.StoreInt64(&s.memSampleNanos, now)
	return stats.Alloc
}

// healthStallWindow is how long a saturated pool may go without any item
// reaching a terminal state before HealthCheck reports it unhealthy.
const healthStallWindow = 30 * time.Second

// HealthCheck is a cheap liveness probe: the pool is healthy when idle,
// when the run has finished, or when items are still reaching terminal
// states within the stall window. Worker occupancy is not consulted; a
// wedged run with idle workers is exactly the case this must catch.
func (s *WorkerPoolScheduler) HealthCheck() bool {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()

	if r == nil {
		return true
	}
	if int(atomic.LoadInt64(&r.completed)) == r.total {
		return true
	}
	last := atomic.LoadInt64(&r.lastTerminalNS)
	if last == 0 {
		// Nothing terminal yet; measure the stall from the run start.
		last = atomic.LoadInt64(&r.startedNS)
	}
	return time.Since(time.Unix(0, last)) < healthStallWindow
}

// Cleanup cancels the current run, settling every non-terminal item so a
// blocked ProcessTemplates caller can return, then waits up to timeout
// for in-flight work. Called on shutdown or on fatal upstream error.
// Safe to call when no run is active or concurrently with a run.
func (s *WorkerPoolScheduler) Cleanup(timeout time.Duration) {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()

	if r == nil {
		return
	}

	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}
	s.cancelRun(context.Background(), r, Options{SettleTimeout: timeout})
	r.waitBounded(timeout)
}
