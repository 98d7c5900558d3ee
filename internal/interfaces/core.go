// Package interfaces defines the boundary contracts between the pipeline
// core and its collaborators. Concrete implementations assert conformance
// with var _ declarations at their definition sites.
package interfaces

import (
	"time"
)

// ArtifactCache is the shared contract for both cache namespaces: the
// compiled-artifact cache and the parsed-source cache. Values are opaque
// byte slices; callers own encoding.
type ArtifactCache interface {
	// Get returns the value for key and whether it was present and
	// unexpired. A hit refreshes recency.
	Get(key string) ([]byte, bool)
	// Set stores value under key with the cache's default TTL.
	Set(key string, value []byte)
	// SetTTL stores value under key with a per-entry TTL. A zero ttl
	// means the entry never expires.
	SetTTL(key string, value []byte, ttl time.Duration)
	// Has reports whether key is present and unexpired without
	// refreshing recency.
	Has(key string) bool
	// Invalidate removes key.
	Invalidate(key string)
	// Clear removes all entries.
	Clear()
}

// CacheStats exposes cache observability counters.
type CacheStats interface {
	Size() int64
	Hits() int64
	Misses() int64
	HitRate() float64
	Evictions() int64
}

// SystemInfo is one sample from the system-info collaborator.
type SystemInfo struct {
	TotalMemoryBytes uint64
	FreeMemoryBytes  uint64
	CPUCount         int
	Platform         string
	Uptime           time.Duration
}

// SystemInfoProvider supplies resource samples to the resource monitor.
// The default implementation reads process runtime statistics; tests
// substitute fixed samples.
type SystemInfoProvider interface {
	Sample() SystemInfo
}
