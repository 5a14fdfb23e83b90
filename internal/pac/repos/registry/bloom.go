package registry

import (
	"math"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

// defaultFPRate is the target false-positive rate of the membership filter.
const defaultFPRate = 0.01

// size computes Bloom filter parameters using the standard formulas:
//
//	m = - (n * ln p) / (ln 2)^2
//	k = (m / n) * ln 2
//
// Results are clamped to at least 1.
func size(n uint64, p float64) (uint64, uint8) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = defaultFPRate
	}
	ln2 := math.Ln2
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m == 0 {
		m = 1
	}
	k := uint8(math.Max(1, math.Round((float64(m)/float64(n))*ln2)))
	return m, k
}

// prefilter answers "definitely absent" for blocklist lookups. It is built
// once per snapshot and never mutated afterwards, so reads need no locking.
type prefilter struct {
	bf *bitsbloom.BloomFilter
}

func newPrefilter(keys []string, fpRate float64) *prefilter {
	m, k := size(uint64(len(keys)), fpRate)
	bf := bitsbloom.New(uint(m), uint(k))
	for _, key := range keys {
		bf.AddString(key)
	}
	return &prefilter{bf: bf}
}

func (p *prefilter) MightContain(key string) bool {
	if p == nil {
		return true
	}
	return p.bf.TestString(key)
}
