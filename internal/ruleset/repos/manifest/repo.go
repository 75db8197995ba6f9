package manifest

import (
	"sync"
	"sync/atomic"

	logpkg "github.com/haukened/rr-ruleset/internal/ruleset/common/log"
)

// manifest implements the Manifest interface by composing a Store,
// a Bloom filter (via factory), and an EntryCache. It applies a bloom → cache → store
// pipeline on reads and performs atomic snapshot updates on writes.
type manifest struct {
	mu           sync.RWMutex
	store        Store
	cache        EntryCache
	bloom        BloomFilter
	factory      BloomFactory
	fpRate       float64
	logger       logpkg.Logger
	bloomRejects uint64
}

// New constructs a Manifest and warms its Bloom filter and cache from the
// store's current snapshot, so lookups during a run rarely reach the store.
// fpRate is the target false-positive rate for the Bloom filter when rebuilding.
func New(store Store, cache EntryCache, factory BloomFactory, fpRate float64, logger logpkg.Logger) (Manifest, error) {
	m := &manifest{store: store, cache: cache, factory: factory, fpRate: fpRate, logger: logger}
	entries, err := m.Entries()
	if err != nil {
		return nil, err
	}
	m.bloom = m.buildBloom(entries)
	m.warmCache(entries)
	st := store.Stats()
	logger.Debug(map[string]any{
		"entries": st.Entries,
		"version": st.Version,
		"updated": st.UpdatedUnix,
	}, "manifest_loaded")
	return m, nil
}

// Lookup returns the last committed entry for relPath.
// Policy: on store errors, report a miss so the file is treated as new.
func (m *manifest) Lookup(relPath string) (Entry, bool) {
	// 1) checkBloom: early miss if definitively absent
	if !m.checkBloom(relPath) {
		atomic.AddUint64(&m.bloomRejects, 1)
		return Entry{}, false
	}
	// 2) checkCache
	if e, ok := m.checkCache(relPath); ok {
		return e, true
	}
	// 3) checkStore
	e, ok := m.checkStore(relPath)
	if !ok {
		return Entry{}, false
	}
	// 4) updateCache
	m.updateCache(relPath, e)
	return e, true
}

// Entries returns every committed entry in key order.
func (m *manifest) Entries() ([]Entry, error) {
	var out []Entry
	err := m.store.Visit(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

// Commit performs an atomic snapshot update across store, bloom, and cache.
func (m *manifest) Commit(entries []Entry, updatedUnix int64) error {
	// 1) Rebuild the persistent store first.
	version := m.store.Stats().Version + 1
	if err := m.store.ReplaceAll(entries, version, updatedUnix); err != nil {
		return err
	}

	// 2) Build a fresh Bloom filter sized for the dataset.
	bf := m.buildBloom(entries)

	// 3) Swap bloom and reload the cache under lock.
	m.mu.Lock()
	m.bloom = bf
	m.cache.Purge()
	for _, e := range entries {
		m.cache.Put(e.RelPath, e)
	}
	m.mu.Unlock()

	m.logger.Debug(map[string]any{"entries": len(entries), "version": version}, "manifest_committed")
	return nil
}

func (m *manifest) Stats() Stats {
	hits, misses, evictions := m.cache.Stats()
	return Stats{
		Hits:         hits,
		Misses:       misses,
		Evictions:    evictions,
		BloomRejects: atomic.LoadUint64(&m.bloomRejects),
		Store:        m.store.Stats(),
	}
}

func (m *manifest) Close() error { return m.store.Close() }

// warmCache loads a snapshot into the cache. Past capacity the LRU keeps the
// entries loaded last.
func (m *manifest) warmCache(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.cache.Put(e.RelPath, e)
	}
}

func (m *manifest) buildBloom(entries []Entry) BloomFilter {
	bf := m.factory.New(uint64(len(entries)), m.fpRate)
	for _, e := range entries {
		bf.Add([]byte(e.RelPath))
	}
	return bf
}

// checkBloom returns true if we should consult the cache and store (maybe-present),
// or false if the key is definitely absent. With no bloom loaded, returns true.
func (m *manifest) checkBloom(relPath string) bool {
	m.mu.RLock()
	bf := m.bloom
	m.mu.RUnlock()
	if bf == nil {
		return true
	}
	return bf.MightContain([]byte(relPath))
}

func (m *manifest) checkCache(relPath string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.cache.Get(relPath)
	m.mu.RUnlock()
	return e, ok
}

func (m *manifest) checkStore(relPath string) (Entry, bool) {
	e, ok, err := m.store.Get(relPath)
	if err != nil {
		m.logger.Warn(map[string]any{"file": relPath, "error": err.Error()}, "manifest_lookup_failed")
		return Entry{}, false
	}
	return e, ok
}

func (m *manifest) updateCache(relPath string, e Entry) {
	m.mu.Lock()
	m.cache.Put(relPath, e)
	m.mu.Unlock()
}

var _ Manifest = (*manifest)(nil)
