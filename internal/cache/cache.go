// Package cache provides the artifact cache: a bounded LRU store with
// per-entry TTL shared by the compiled-artifact and parsed-source
// namespaces. Entries outlive a single generation run and can be
// snapshotted to disk between processes.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stencilkit/stencil/internal/interfaces"
)

// ArtifactCache caches encoded values with LRU eviction and lazy TTL
// expiry. Safe for concurrent use by multiple workers; get/set are atomic
// per key with no cross-key guarantee.
type ArtifactCache struct {
	entries     map[string]*entry
	mu          sync.Mutex
	maxSize     int64
	currentSize int64
	defaultTTL  time.Duration

	// LRU doubly-linked list with dummy head and tail.
	head *entry
	tail *entry

	hits      int64
	misses    int64
	sets      int64
	evictions int64
}

var _ interfaces.ArtifactCache = (*ArtifactCache)(nil)
var _ interfaces.CacheStats = (*ArtifactCache)(nil)

type entry struct {
	key          string
	value        []byte
	createdAt    time.Time
	lastAccessAt time.Time
	ttl          time.Duration
	size         int64

	prev *entry
	next *entry
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// New creates a cache bounded to maxSize bytes. defaultTTL applies to
// entries stored with Set; zero means entries never expire.
func New(maxSize int64, defaultTTL time.Duration) *ArtifactCache {
	c := &ArtifactCache{
		entries:    make(map[string]*entry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		head:       &entry{},
		tail:       &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the value for key. An expired entry is evicted and reported
// as a miss (lazy expiry). A hit refreshes recency.
func (c *ArtifactCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if e.expired(time.Now()) {
		c.remove(e)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(e)
	e.lastAccessAt = time.Now()
	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *ArtifactCache) Set(key string, value []byte) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL. Zero ttl means the
// entry never expires. Last writer wins on concurrent sets.
func (c *ArtifactCache) SetTTL(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl, time.Now())
}

func (c *ArtifactCache) setLocked(key string, value []byte, ttl time.Duration, createdAt time.Time) {
	size := int64(len(key) + len(value))

	// An update is a removal plus a fresh insert so the size bound holds
	// even when the value grew. A value that cannot fit the cache at all
	// is not stored; the bound is an invariant, not a goal.
	if existing, ok := c.entries[key]; ok {
		c.remove(existing)
	}
	if size > c.maxSize {
		return
	}

	c.evictIfNeeded(size)

	e := &entry{
		key:          key,
		value:        value,
		createdAt:    createdAt,
		lastAccessAt: time.Now(),
		ttl:          ttl,
		size:         size,
	}
	c.entries[key] = e
	c.currentSize += size
	c.addToFront(e)
	atomic.AddInt64(&c.sets, 1)
}

// Has reports whether key is present and unexpired. Does not refresh
// recency but does evict an expired entry it encounters.
func (c *ArtifactCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(time.Now()) {
		c.remove(e)
		return false
	}
	return true
}

// Invalidate removes key from the cache.
func (c *ArtifactCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns the number removed. Used by the source watcher to drop all
// fingerprinted entries for one path at once.
func (c *ArtifactCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.remove(e)
			removed++
		}
	}
	return removed
}

// Clear removes all entries and resets counters.
func (c *ArtifactCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.currentSize = 0
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.sets, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// GetOrCompute returns the cached value for key, computing and storing it
// on a miss. Two concurrent callers missing on the same key may both run
// compute; the last writer's value is retained and both callers receive a
// valid value. Compute errors are returned without caching.
func (c *ArtifactCache) GetOrCompute(key string, compute func() ([]byte, error)) ([]byte, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := compute()
	if err != nil {
		return nil, err
	}
	c.Set(key, value)
	return value, nil
}

// Len returns the number of live entries.
func (c *ArtifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size returns the current cache size in bytes.
func (c *ArtifactCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Hits returns the number of cache hits.
func (c *ArtifactCache) Hits() int64 { return atomic.LoadInt64(&c.hits) }

// Misses returns the number of cache misses.
func (c *ArtifactCache) Misses() int64 { return atomic.LoadInt64(&c.misses) }

// Evictions returns the number of evicted entries.
func (c *ArtifactCache) Evictions() int64 { return atomic.LoadInt64(&c.evictions) }

// HitRate returns the hit rate in [0, 1].
func (c *ArtifactCache) HitRate() float64 {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Sweep evicts all expired entries. Lazy expiry keeps the cache correct
// without it; a periodic sweep just reclaims memory earlier.
func (c *ArtifactCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	swept := 0
	for _, e := range c.entries {
		if e.expired(now) {
			c.remove(e)
			swept++
		}
	}
	return swept
}

func (c *ArtifactCache) evictIfNeeded(incoming int64) {
	for c.currentSize+incoming > c.maxSize && c.tail.prev != c.head {
		lru := c.tail.prev
		c.remove(lru)
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *ArtifactCache) remove(e *entry) {
	c.unlink(e)
	delete(c.entries, e.key)
	c.currentSize -= e.size
}

func (c *ArtifactCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *ArtifactCache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *ArtifactCache) moveToFront(e *entry) {
	c.unlink(e)
	c.addToFront(e)
}
