package manifest

// StoreStats reports lightweight store metrics and metadata.
// Values are read from the store in a cheap, read-only transaction.
type StoreStats struct {
	Version     uint64 // snapshot version (0 if never committed)
	UpdatedUnix int64  // last commit unix time (0 if unknown)
	Entries     uint64 // number of remembered files
}

// Stats exposes manifest-level counters and underlying store stats.
type Stats struct {
	Hits         uint64 // cache hits
	Misses       uint64 // cache misses
	Evictions    uint64 // cache evictions
	BloomRejects uint64 // lookups answered by the Bloom filter alone
	Store        StoreStats
}
