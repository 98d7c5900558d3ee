// Package monitor provides the resource monitor: it samples memory and
// CPU characteristics and turns them into an execution-strategy signal
// for the orchestrator. Recommendations are advisory only; nothing here
// enforces a policy.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stencilkit/stencil/internal/config"
	"github.com/stencilkit/stencil/internal/interfaces"
	"github.com/stencilkit/stencil/internal/logging"
)

// ResourceMonitor samples system resources for the duration of a
// generation run.
type ResourceMonitor struct {
	provider interfaces.SystemInfoProvider
	cfg      config.MonitorConfig
	logger   logging.Logger

	mu         sync.RWMutex
	lastSample interfaces.SystemInfo
	sampled    bool

	running int32
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor. A nil provider defaults to runtime sampling.
func New(cfg config.MonitorConfig, provider interfaces.SystemInfoProvider, logger logging.Logger) *ResourceMonitor {
	if provider == nil {
		provider = NewRuntimeProvider()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ResourceMonitor{
		provider: provider,
		cfg:      cfg,
		logger:   logger.WithComponent("monitor"),
	}
}

// StartMonitoring begins the background sampling loop. Calling it while
// already running is a no-op.
func (m *ResourceMonitor) StartMonitoring(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.takeSample()

	interval := m.cfg.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.takeSample()
			}
		}
	}()
}

// StopMonitoring stops the sampling loop and waits for it to settle.
func (m *ResourceMonitor) StopMonitoring() {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return
	}
	m.cancel()
	<-m.done
}

func (m *ResourceMonitor) takeSample() {
	sample := m.provider.Sample()
	m.mu.Lock()
	m.lastSample = sample
	m.sampled = true
	m.mu.Unlock()
}

// LastSample returns the most recent sample, taking one on demand if the
// loop has not run yet.
func (m *ResourceMonitor) LastSample() interfaces.SystemInfo {
	m.mu.RLock()
	if m.sampled {
		defer m.mu.RUnlock()
		return m.lastSample
	}
	m.mu.RUnlock()

	m.takeSample()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSample
}

// ShouldOptimize reports whether the orchestrator should prefer a
// lower-parallelism, streaming-oriented strategy for an input of the
// given size: either the input itself is large, or free memory has
// dropped below the configured pressure ratio.
func (m *ResourceMonitor) ShouldOptimize(inputSizeBytes int64) bool {
	if m.cfg.LargeInputBytes > 0 && inputSizeBytes >= m.cfg.LargeInputBytes {
		return true
	}
	return m.memoryPressure()
}

func (m *ResourceMonitor) memoryPressure() bool {
	sample := m.LastSample()
	if sample.TotalMemoryBytes == 0 {
		return false
	}
	ratio := float64(sample.FreeMemoryBytes) / float64(sample.TotalMemoryBytes)
	return ratio < m.cfg.MemoryPressureRatio
}

// RecommendedWorkers bounds the configured worker count by the sampled
// CPU count, halving it when the input size or memory pressure calls
// for the reduced-parallelism strategy. Always at least one.
func (m *ResourceMonitor) RecommendedWorkers(configured int, inputSizeBytes int64) int {
	sample := m.LastSample()

	workers := configured
	if sample.CPUCount > 0 && workers > sample.CPUCount {
		workers = sample.CPUCount
	}
	if m.ShouldOptimize(inputSizeBytes) {
		workers /= 2
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// OptimizationRecommendations returns human-readable advisories derived
// from the latest sample. Advisory only, never enforced.
func (m *ResourceMonitor) OptimizationRecommendations() []string {
	sample := m.LastSample()
	var recs []string

	if sample.TotalMemoryBytes > 0 {
		ratio := float64(sample.FreeMemoryBytes) / float64(sample.TotalMemoryBytes)
		if ratio < m.cfg.MemoryPressureRatio {
			recs = append(recs,
				fmt.Sprintf("free memory ratio %.2f below threshold %.2f: reduce worker count",
					ratio, m.cfg.MemoryPressureRatio))
			recs = append(recs, "enable streaming mode for large templates")
		}
	}
	if sample.CPUCount == 1 {
		recs = append(recs, "single CPU core detected: run with max_concurrency=1")
	}
	if len(recs) == 0 {
		recs = append(recs, "resources are healthy: no optimization needed")
	}
	return recs
}
