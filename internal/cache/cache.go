// Package cache provides a small in-process TTL cache with get-or-refresh
// semantics. Concurrent requests for the same missing key share one refresh
// call instead of stampeding the backing store.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

type call[V any] struct {
	wg    sync.WaitGroup
	value V
	err   error
}

// Cache maps keys to values with a fixed TTL. The zero value is not usable;
// construct with New.
type Cache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	entries  map[K]entry[V]
	inflight map[K]*call[V]
}

// New creates a cache whose entries expire ttl after they are stored.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[K]entry[V]),
		inflight: make(map[K]*call[V]),
	}
}

// GetOrRefresh returns the cached value for key, calling refresh on a miss
// or expired entry. A refresh error is returned to every waiter and nothing
// is cached, so the next request retries.
func (c *Cache[K, V]) GetOrRefresh(ctx context.Context, key K, refresh func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.value, nil
	}
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		inflight.wg.Wait()
		return inflight.value, inflight.err
	}
	cl := &call[V]{}
	cl.wg.Add(1)
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = refresh(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if cl.err == nil {
		c.entries[key] = entry[V]{value: cl.value, expires: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	cl.wg.Done()

	return cl.value, cl.err
}

// Invalidate drops the entry for key, if any.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
