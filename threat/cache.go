package threat

import (
	"context"
	"time"

	"soctriage/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ResultCache stores successful enrichment results keyed by indicator kind+value.
// Implementations must be safe for concurrent use.
type ResultCache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Set(ctx context.Context, key string, result Result) error
	Close() error
}

// DefaultCacheSize bounds the in-memory cache
const DefaultCacheSize = 10000

// MemoryCache is a bounded in-process cache with a fixed TTL per entry
type MemoryCache struct {
	lru *expirable.LRU[string, Result]
}

// NewMemoryCache creates an in-memory cache. Non-positive size uses DefaultCacheSize.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, Result](size, nil, ttl),
	}
}

// Get returns a cached result; expired entries are misses
func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool, error) {
	r, ok := c.lru.Get(key)
	if !ok {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return Result{}, false, nil
	}
	metrics.CacheHits.WithLabelValues("memory").Inc()
	return r, true, nil
}

// Set stores a copy of a successful result
func (c *MemoryCache) Set(_ context.Context, key string, result Result) error {
	if !result.Succeeded() {
		return ErrNotCacheable
	}
	c.lru.Add(key, result)
	return nil
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Close drops all entries
func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
