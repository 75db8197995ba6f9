package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
)

// entryCache is an LRU-backed implementation of manifest.EntryCache.
// It tracks basic metrics: hits, misses, and evictions.
type entryCache struct {
	lru       *lru.Cache[string, manifest.Entry]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache is a no-op EntryCache used when size <= 0.
type disabledCache struct{}

// New creates a new EntryCache with the given capacity. If size <= 0, a
// disabled no-op cache is returned that always misses and tracks no metrics.
func New(size int) (manifest.EntryCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	var ec entryCache
	// NewWithEvict observes evictions, including Purge-induced ones.
	cache, err := lru.NewWithEvict(size, func(_ string, _ manifest.Entry) {
		atomic.AddUint64(&ec.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	ec.lru = cache
	return &ec, nil
}

// Get looks up an entry by path. When found, increments hits; otherwise increments misses.
func (c *entryCache) Get(relPath string) (manifest.Entry, bool) {
	if val, ok := c.lru.Get(relPath); ok {
		atomic.AddUint64(&c.hits, 1)
		return val, true
	}
	atomic.AddUint64(&c.misses, 1)
	return manifest.Entry{}, false
}

func (c *entryCache) Put(relPath string, e manifest.Entry) {
	c.lru.Add(relPath, e)
}

func (c *entryCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *entryCache) Purge() { c.lru.Purge() }

// Stats returns cumulative hit/miss/eviction counters.
func (c *entryCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledCache) Get(string) (manifest.Entry, bool) { return manifest.Entry{}, false }

func (d *disabledCache) Put(string, manifest.Entry) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ manifest.EntryCache = (*entryCache)(nil)
var _ manifest.EntryCache = (*disabledCache)(nil)
