package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-ruleset/internal/ruleset/repos/manifest"
)

const (
	// DefaultFPRate is used when the requested false-positive rate is outside (0, 1).
	DefaultFPRate = 0.01

	// minCapacity keeps filters for tiny manifests from saturating when a run adds files.
	minCapacity = 64
)

type factory struct{}

// NewFactory returns a BloomFactory backed by bits-and-blooms filters.
func NewFactory() manifest.BloomFactory { return factory{} }

// New returns an empty filter sized for capacity keys at fpRate.
func (factory) New(capacity uint64, fpRate float64) manifest.BloomFilter {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = DefaultFPRate
	}
	return filter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}

// filter is filled by the manifest before it is shared, so reads need no lock.
type filter struct {
	bf *bitsbloom.BloomFilter
}

func (f filter) Add(key []byte) { f.bf.Add(key) }

func (f filter) MightContain(key []byte) bool { return f.bf.Test(key) }

var _ manifest.BloomFilter = filter{}
