package monitor

import (
	"runtime"
	"time"

	"github.com/stencilkit/stencil/internal/interfaces"
)

// RuntimeProvider samples the Go runtime. It approximates host memory
// with the process heap: Sys is what the process has obtained from the
// OS and HeapIdle-HeapReleased is what it could reuse without growing.
// Hosts needing true machine-wide numbers supply their own provider.
type RuntimeProvider struct {
	startedAt time.Time
}

var _ interfaces.SystemInfoProvider = (*RuntimeProvider)(nil)

// NewRuntimeProvider creates the default provider.
func NewRuntimeProvider() *RuntimeProvider {
	return &RuntimeProvider{startedAt: time.Now()}
}

// Sample implements interfaces.SystemInfoProvider.
func (p *RuntimeProvider) Sample() interfaces.SystemInfo {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	free := stats.HeapIdle - stats.HeapReleased
	return interfaces.SystemInfo{
		TotalMemoryBytes: stats.Sys,
		FreeMemoryBytes:  free,
		CPUCount:         runtime.NumCPU(),
		Platform:         runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:           time.Since(p.startedAt),
	}
}

// StaticProvider returns a fixed sample on every call. Used in tests and
// for hosts that probe resources out of band.
type StaticProvider struct {
	Info interfaces.SystemInfo
}

var _ interfaces.SystemInfoProvider = (*StaticProvider)(nil)

// Sample implements interfaces.SystemInfoProvider.
func (p *StaticProvider) Sample() interfaces.SystemInfo { return p.Info }
