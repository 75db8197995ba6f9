package manifest

import "github.com/haukened/rr-ruleset/internal/ruleset/domain"

// Entry is what the manifest remembers about one rule file from the last successful run.
type Entry struct {
	RelPath     string
	OutRel      string // planned output path without extension
	RuleType    domain.RuleType
	RuleCount   int
	Digest      string
	UpdatedUnix int64
}

// BloomFilter answers "definitely not remembered" for relative paths.
// Adds happen before the filter is published; lookups may then run concurrently.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory constructs Bloom filters sized for a dataset.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// EntryCache caches entries by relative path with basic metrics.
type EntryCache interface {
	Get(relPath string) (Entry, bool)
	Put(relPath string, e Entry)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// Store abstracts the persistent ledger.
//   - Get: the entry for relPath, if any
//   - Visit: iterate every entry in key order; stop when visit returns false
//   - ReplaceAll: swap the whole snapshot in a single transaction
//   - Stats: counts and metadata; Close: release resources
type Store interface {
	Get(relPath string) (Entry, bool, error)
	Visit(visit func(Entry) bool) error
	ReplaceAll(entries []Entry, version uint64, updatedUnix int64) error
	Stats() StoreStats
	Close() error
}

// Manifest is the composition layer that wires cache → bloom → store.
// Lookup reports the previous run's entry for a file.
// Entries lists every remembered file, for pruning and degradation checks.
// Commit replaces the snapshot with the current run's entries.
type Manifest interface {
	Lookup(relPath string) (Entry, bool)
	Entries() ([]Entry, error)
	Commit(entries []Entry, updatedUnix int64) error
	Stats() Stats
	Close() error
}
