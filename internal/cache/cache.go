// Package cache provides a generic capacity- and TTL-bounded LRU cache
// and a [Manager] that owns the named cache set used across the process
// (cost estimates, generated schemas, endpoint validation and
// availability memoization).
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry is the internal representation of one cached value. Owned
// exclusively by its Cache and only touched under the cache mutex.
type entry[K comparable, V any] struct {
	key            K
	value          V
	createdAt      time.Time
	lastAccessedAt time.Time
	ttl            time.Duration // <= 0 means no expiry
	sizeHint       int
}

// expired reports whether the entry's TTL has elapsed since creation.
func (e *entry[K, V]) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.Sub(e.createdAt) >= e.ttl
}

// call tracks one in-flight GetOrLoad execution so concurrent callers of
// the same key share a single loader run.
type call[V any] struct {
	wg  sync.WaitGroup
	val V
	err error
}

// Option configures a [Cache].
type Option[K comparable, V any] func(*Cache[K, V])

// WithSizer installs a value-size estimator. When set, each entry's size
// hint feeds [Stats.Bytes] so dashboards can approximate memory held by
// the cache. Eviction is still strictly entry-count based.
func WithSizer[K comparable, V any](sizer func(V) int) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.sizer = sizer
	}
}

// Cache is a thread-safe LRU cache with per-entry TTL. The zero value is
// not usable; construct with [New].
//
// Operations never return errors and never panic: an absent or expired
// key is simply a miss. All methods are safe for arbitrary concurrent
// callers; LRU order reflects actual access order.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[K]*list.Element
	evictList *list.List // front = most recently used
	inflight  map[K]*call[V]
	sizer     func(V) int
	now       func() time.Time

	hits      int64
	misses    int64
	evictions int64
	bytes     int64
}

// New constructs a Cache holding at most capacity entries, each expiring
// defaultTTL after creation. capacity < 1 is treated as 1. A
// defaultTTL <= 0 disables expiry for entries stored via [Cache.Put].
func New[K comparable, V any](capacity int, defaultTTL time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache[K, V]{
		capacity:  capacity,
		ttl:       defaultTTL,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		inflight:  make(map[K]*call[V]),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value stored under key. The second return is false on
// a miss: the key is absent or its TTL has elapsed (expired entries are
// removed on observation). A hit refreshes the entry's LRU recency.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// getLocked implements Get. Must be called with c.mu held.
func (c *Cache[K, V]) getLocked(key K) (V, bool) {
	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if ent.expired(c.now()) {
		c.removeLocked(el)
		c.misses++
		return zero, false
	}
	ent.lastAccessedAt = c.now()
	c.evictList.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Put stores value under key with the cache's default TTL, overwriting
// any previous entry. If the insert pushes the cache past capacity, the
// least-recently-used entries are evicted until it fits.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores value under key with an explicit TTL. ttl <= 0 means the
// entry never expires.
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value, ttl)
}

// putLocked implements PutTTL. Must be called with c.mu held.
func (c *Cache[K, V]) putLocked(key K, value V, ttl time.Duration) {
	now := c.now()
	size := 0
	if c.sizer != nil {
		size = c.sizer(value)
	}

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		c.bytes += int64(size - ent.sizeHint)
		ent.value = value
		ent.createdAt = now
		ent.lastAccessedAt = now
		ent.ttl = ttl
		ent.sizeHint = size
		c.evictList.MoveToFront(el)
		return
	}

	el := c.evictList.PushFront(&entry[K, V]{
		key:            key,
		value:          value,
		createdAt:      now,
		lastAccessedAt: now,
		ttl:            ttl,
		sizeHint:       size,
	})
	c.items[key] = el
	c.bytes += int64(size)

	for c.evictList.Len() > c.capacity {
		c.evictOldestLocked()
	}
}

// GetOrLoad returns the cached value for key, or runs loader to compute
// it. Concurrent callers of the same absent key share one loader
// execution and all receive its result. Loader errors are returned to
// those callers and nothing is cached, so a later call retries.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, loader func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		cl.wg.Wait()
		return cl.val, cl.err
	}
	cl := &call[V]{}
	cl.wg.Add(1)
	c.inflight[key] = cl
	c.mu.Unlock()

	val, err := loader(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.putLocked(key, val, c.ttl)
	}
	c.mu.Unlock()

	cl.val, cl.err = val, err
	cl.wg.Done()
	return val, err
}

// Invalidate removes key from the cache if present.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// InvalidateFunc removes every entry whose key satisfies pred and
// returns the number removed.
func (c *Cache[K, V]) InvalidateFunc(pred func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, el := range c.items {
		if pred(key) {
			c.removeLocked(el)
			removed++
		}
	}
	return removed
}

// Flush removes all entries. Stats counters are preserved.
func (c *Cache[K, V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.evictList.Init()
	c.bytes = 0
}

// RemoveExpired removes every TTL-expired entry and returns the number
// removed. Used by the manager's periodic sweep to bound memory between
// accesses; removals here do not count as evictions.
func (c *Cache[K, V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for el := c.evictList.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[K, V]).expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the current number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns a point-in-time snapshot of the cache's counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		CurrentSize: c.evictList.Len(),
		Capacity:    c.capacity,
		Bytes:       c.bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the hit/miss/eviction counters. Entries are kept.
func (c *Cache[K, V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// evictOldestLocked removes the least-recently-used entry and counts it
// as an eviction. Insertion order breaks recency ties because new
// entries are pushed to the front in arrival order. Must be called with
// c.mu held.
func (c *Cache[K, V]) evictOldestLocked() {
	el := c.evictList.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.evictions++
}

// removeLocked unlinks el from the list and the index. Must be called
// with c.mu held.
func (c *Cache[K, V]) removeLocked(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	c.evictList.Remove(el)
	delete(c.items, ent.key)
	c.bytes -= int64(ent.sizeHint)
}
