// Package cache provides a small LRU cache used to avoid repeating
// expensive lookups within and across pipeline stages: file contents and
// history profiles from the VCS host, and completion responses keyed by
// prompt hash.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is enough for one run over a mid-sized repository.
const DefaultSize = 512

// Cache is a fixed-capacity LRU keyed by string. Safe for concurrent use.
type Cache[V any] struct {
	lru    *lru.Cache[string, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given capacity (DefaultSize if <= 0).
func New[V any](size int) (*Cache[V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	inner, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &Cache[V]{lru: inner}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores a value, evicting the least recently used entry when full.
func (c *Cache[V]) Put(key string, value V) {
	c.lru.Add(key, value)
}

// Stats returns hit and miss counts since creation.
func (c *Cache[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
