package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Config controls the size and freshness of a Cache
type Config struct {
	// MaxEntries bounds the number of cached keys
	MaxEntries int
	// TTL is how long a loaded value may be served. Zero disables caching.
	TTL time.Duration
}

// DefaultConfig returns a small short-lived cache suitable for snapshot reads
func DefaultConfig() Config {
	return Config{
		MaxEntries: 10000,
		TTL:        5 * time.Second,
	}
}

// Loader fetches the authoritative value for a key on a miss
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is a read-through, size-bounded cache with per-entry expiry. Errors
// from the loader are never cached.
type Cache[K comparable, V any] struct {
	config Config
	lru    *lru.LRU[K, V]
	load   Loader[K, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a read-through cache in front of load
func New[K comparable, V any](config Config, load Loader[K, V]) *Cache[K, V] {
	if config.MaxEntries < 1 {
		config.MaxEntries = 1
	}
	c := &Cache[K, V]{config: config, load: load}
	if config.TTL > 0 {
		c.lru = lru.NewLRU[K, V](config.MaxEntries, nil, config.TTL)
	}
	return c
}

// Get returns the cached value for key, loading it on a miss
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if c.lru != nil {
		if v, ok := c.lru.Get(key); ok {
			c.hits.Add(1)
			return v, nil
		}
	}
	c.misses.Add(1)

	v, err := c.load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if c.lru != nil {
		c.lru.Add(key, v)
	}
	return v, nil
}

// Invalidate drops key so the next Get reloads it
func (c *Cache[K, V]) Invalidate(key K) {
	if c.lru != nil {
		c.lru.Remove(key)
	}
}

// Purge drops every entry
func (c *Cache[K, V]) Purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

// Stats holds cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int64
	HitRate   float64
}

// Stats returns hit/miss counters and the current size
func (c *Cache[K, V]) Stats() Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if c.lru != nil {
		stats.ItemCount = int64(c.lru.Len())
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
