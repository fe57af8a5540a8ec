// Package cache provides a TTL-bounded LRU cache and a cached view of the
// application property store.
package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is a thread-safe string-keyed cache with TTL and max-size
// eviction of the least recently used entry.
type LRUCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewLRUCache creates a new LRU cache with the given maximum size and TTL.
// maxSize below 1 is raised to 1; a non-positive ttl defaults to one minute.
func NewLRUCache[V any](maxSize int, ttl time.Duration) *LRUCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &LRUCache[V]{lru: expirable.NewLRU[string, V](maxSize, nil, ttl)}
}

// Get returns the cached value for key. Expired entries are misses.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRUCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Invalidate removes a specific key from the cache.
func (c *LRUCache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}

// InvalidatePrefix removes every key starting with prefix.
func (c *LRUCache[V]) InvalidatePrefix(prefix string) int {
	n := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// InvalidateAll removes all entries from the cache.
func (c *LRUCache[V]) InvalidateAll() {
	c.lru.Purge()
}

// Size returns the number of entries currently in the cache.
func (c *LRUCache[V]) Size() int {
	return c.lru.Len()
}
