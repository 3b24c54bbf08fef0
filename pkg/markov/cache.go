package markov

import (
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheKey identifies a table by order and corpus digest, so the cache does not
// keep training texts alive.
type cacheKey struct {
	order  int
	digest [sha256.Size]byte
}

func newCacheKey(text string, k int) cacheKey {
	return cacheKey{order: k, digest: sha256.Sum256([]byte(text))}
}

// CacheStats is a snapshot of a TableCache.
type CacheStats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// TableCache is a bounded LRU of built tables keyed by (order, text). Tables are
// immutable, so a cached table is shared by every request that hits it.
// All methods are concurrent-safe.
type TableCache struct {
	tables   *lru.Cache[cacheKey, *Table]
	capacity int
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewTableCache returns a cache holding at most size tables.
func NewTableCache(size int) (*TableCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalidParameter, size)
	}
	tables, err := lru.New[cacheKey, *Table](size)
	if err != nil {
		return nil, fmt.Errorf("could not create table cache: %w", err)
	}
	return &TableCache{tables: tables, capacity: size}, nil
}

// Get returns the cached order-k table for text.
func (c *TableCache) Get(text string, k int) (*Table, bool) {
	return c.get(newCacheKey(text, k))
}

// Add stores a table built from text.
func (c *TableCache) Add(text string, t *Table) {
	c.add(newCacheKey(text, t.order), t)
}

func (c *TableCache) get(key cacheKey) (*Table, bool) {
	t, ok := c.tables.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return t, ok
}

func (c *TableCache) add(key cacheKey, t *Table) {
	c.tables.Add(key, t)
}

// Len returns the number of cached tables.
func (c *TableCache) Len() int {
	return c.tables.Len()
}

// Purge drops every cached table. Hit and miss counters are kept.
func (c *TableCache) Purge() {
	c.tables.Purge()
}

// Stats returns the current size and hit counters.
func (c *TableCache) Stats() CacheStats {
	return CacheStats{
		Size:     c.tables.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}
