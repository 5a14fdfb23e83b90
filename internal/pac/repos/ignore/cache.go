package ignore

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// verdict is a memoized Contains result tagged with the snapshot generation
// it was computed against.
type verdict struct {
	gen     uint64
	ignored bool
}

// verdictCache memoizes Contains results by hostname.
type verdictCache interface {
	Get(host string, gen uint64) (bool, bool)
	Put(host string, gen uint64, ignored bool)
	Purge()
	Stats() CacheStats
}

// CacheStats reports lightweight cache metrics.
type CacheStats struct {
	Capacity  int
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// lruCache is an LRU-backed verdictCache with hit/miss/eviction counters.
type lruCache struct {
	lru       *lru.Cache[string, verdict]
	capacity  int
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledCache always misses.
type disabledCache struct{}

// newVerdictCache returns a disabled cache when size <= 0.
func newVerdictCache(size int) (verdictCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}
	c := &lruCache{capacity: size}
	cache, err := lru.NewWithEvict(size, func(_ string, _ verdict) {
		atomic.AddUint64(&c.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	c.lru = cache
	return c, nil
}

// Get returns a verdict only when it was computed for generation gen.
func (c *lruCache) Get(host string, gen uint64) (bool, bool) {
	if v, ok := c.lru.Get(host); ok && v.gen == gen {
		atomic.AddUint64(&c.hits, 1)
		return v.ignored, true
	}
	atomic.AddUint64(&c.misses, 1)
	return false, false
}

func (c *lruCache) Put(host string, gen uint64, ignored bool) {
	c.lru.Add(host, verdict{gen: gen, ignored: ignored})
}

func (c *lruCache) Purge() { c.lru.Purge() }

func (c *lruCache) Stats() CacheStats {
	return CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

func (d *disabledCache) Get(string, uint64) (bool, bool) { return false, false }
func (d *disabledCache) Put(string, uint64, bool)        {}
func (d *disabledCache) Purge()                          {}
func (d *disabledCache) Stats() CacheStats               { return CacheStats{} }

var _ verdictCache = (*lruCache)(nil)
var _ verdictCache = (*disabledCache)(nil)
