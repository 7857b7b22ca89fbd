package search

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// Cache holds recent search results. Any write to the store clears it,
// so a cached response can never outlive the data it was computed from
// by more than the TTL.
type Cache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCache creates a result cache with the given TTL.
func NewCache(ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &Cache{cache: c, ttl: ttl}, nil
}

func cacheKey(mode Mode, query string, topK int) string {
	return fmt.Sprintf("%s|%d|%s", mode, topK, query)
}

// Get returns a cached result list, or nil on miss.
func (c *Cache) Get(mode Mode, query string, topK int) []types.SearchResult {
	if c == nil {
		return nil
	}
	v, ok := c.cache.Get(cacheKey(mode, query, topK))
	if !ok {
		return nil
	}
	results, ok := v.([]types.SearchResult)
	if !ok {
		return nil
	}
	return results
}

// Put stores a result list under the query key.
func (c *Cache) Put(mode Mode, query string, topK int, results []types.SearchResult) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(cacheKey(mode, query, topK), results, 1, c.ttl)
}

// Clear drops all cached results. Called after every write.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.cache.Clear()
}
