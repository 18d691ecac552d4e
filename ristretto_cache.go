package verdict

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoDecisionCache backs the decision cache with a ristretto cache:
// admission-controlled, cost-bounded and safe under heavy concurrency. This
// is the implementation to use under real request load.
type RistrettoDecisionCache struct {
	cache *ristretto.Cache
}

// RistrettoCacheConfig sizes the underlying cache. Zero fields fall back to
// defaults suitable for tens of thousands of distinct decisions.
type RistrettoCacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

func NewRistrettoDecisionCache(cfg RistrettoCacheConfig) (*RistrettoDecisionCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 1 << 16
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1 << 22
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoDecisionCache{cache: c}, nil
}

func (c *RistrettoDecisionCache) Get(key CacheKey) (*Decision, bool) {
	v, ok := c.cache.Get(key.hashKey())
	if !ok {
		return nil, false
	}
	d, ok := v.(*Decision)
	return d, ok
}

func (c *RistrettoDecisionCache) Put(key CacheKey, d *Decision, ttl time.Duration) {
	c.cache.SetWithTTL(key.hashKey(), d, 1, ttl)
}

// Wait flushes ristretto's set buffers; only needed by tests that read
// immediately after a Put.
func (c *RistrettoDecisionCache) Wait() { c.cache.Wait() }

// Close releases the underlying cache's goroutines.
func (c *RistrettoDecisionCache) Close() { c.cache.Close() }
