package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded, TTL-expiring cache with prefix invalidation.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]

	// flight collapses concurrent loads of the same key. generation moves
	// on every Invalidate so a load that started earlier is not stored.
	mu         sync.Mutex
	flight     map[string]*call[V]
	generation uint64

	hits   uint64
	misses uint64
}

type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// New creates a cache holding at most size entries, each for ttl.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		lru:    expirable.NewLRU[string, V](size, nil, ttl),
		flight: make(map[string]*call[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return v, ok
}

func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Invalidate removes every key starting with prefix and returns how many
// were removed. An empty prefix clears the cache.
func (c *Cache[V]) Invalidate(prefix string) int {
	c.mu.Lock()
	c.generation++
	for key := range c.flight {
		if strings.HasPrefix(key, prefix) {
			delete(c.flight, key)
		}
	}
	c.mu.Unlock()

	if prefix == "" {
		n := c.lru.Len()
		c.lru.Purge()
		return n
	}

	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Errors are not cached, and neither is a result whose load was
// overtaken by an Invalidate.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.mu.Lock()
	if inflight, ok := c.flight[key]; ok {
		c.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.value, inflight.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	cl := &call[V]{done: make(chan struct{})}
	c.flight[key] = cl
	generation := c.generation
	c.mu.Unlock()

	cl.value, cl.err = load(ctx)

	c.mu.Lock()
	if cl.err == nil && c.generation == generation {
		c.lru.Add(key, cl.value)
	}
	if c.flight[key] == cl {
		delete(c.flight, key)
	}
	c.mu.Unlock()
	close(cl.done)

	return cl.value, cl.err
}

// Size returns the number of items in cache
func (c *Cache[V]) Size() int {
	return c.lru.Len()
}

// Stats returns cache statistics
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

func (c *Cache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: c.lru.Len(), Hits: c.hits, Misses: c.misses}
}
