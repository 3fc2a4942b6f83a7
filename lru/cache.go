// Package lru implements a generic, thread-safe LRU cache with optional
// per-entry expiry.
//
// Get, Put, Delete and Len are O(1). Expired entries are dropped lazily on
// access and eagerly by Purge.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time // zero means never
	prev    *node[K, V]
	next    *node[K, V]
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL expires entries ttl after their last Put. Zero disables expiry.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// WithOnEvict registers fn to run whenever an entry leaves the cache through
// capacity eviction or expiry. Delete, Take and Clear do not call it.
// fn runs with the cache lock held and must not call back into the cache.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// Metrics is a snapshot of cache counters.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	onEvict  func(K, V)
	metrics  Metrics
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used (sentinel)
	tail     *node[K, V] // least recently used (sentinel)
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a live value by key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.live(key)
	if !ok {
		c.metrics.Misses++
		var zero V
		return zero, false
	}
	c.metrics.Hits++
	c.moveToFront(n)
	return n.val, true
}

// Peek retrieves a live value without updating access order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	return n.val, true
}

// Take removes and returns a live value in one step.
func (c *Cache[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.unlink(n)
	return n.val, true
}

// Put inserts or replaces a key-value pair and restarts its TTL. If the
// cache is full the least recently used entry is evicted and returned.
func (c *Cache[K, V]) Put(key K, val V) (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expires = expires
		c.moveToFront(n)
		var zk K
		var zv V
		return zk, zv, false
	}

	var (
		evictedKey K
		evictedVal V
		evicted    bool
	)
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		evictedKey, evictedVal, evicted = victim.key, victim.val, true
		c.metrics.Evictions++
		if c.onEvict != nil {
			c.onEvict(victim.key, victim.val)
		}
	}

	n := &node[K, V]{key: key, val: val, expires: expires}
	c.items[key] = n
	c.pushFront(n)

	return evictedKey, evictedVal, evicted
}

// Delete removes a key. Returns true if the key existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	return true
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns live keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]K, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		if !c.expired(cur, now) {
			keys = append(keys, cur.key)
		}
	}
	return keys
}

// Purge drops every expired entry and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for cur := c.head.next; cur != c.tail; {
		next := cur.next
		if c.expired(cur, now) {
			c.expire(cur)
			removed++
		}
		cur = next
	}
	return removed
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

// --- internal operations (caller must hold lock) ---

func (c *Cache[K, V]) live(key K) (*node[K, V], bool) {
	n, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.expired(n, c.now()) {
		c.expire(n)
		return nil, false
	}
	return n, true
}

func (c *Cache[K, V]) expire(n *node[K, V]) {
	c.unlink(n)
	c.metrics.Expirations++
	if c.onEvict != nil {
		c.onEvict(n.key, n.val)
	}
}

func (c *Cache[K, V]) expired(n *node[K, V], now time.Time) bool {
	return !n.expires.IsZero() && !now.Before(n.expires)
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	c.remove(n)
	delete(c.items, n.key)
}

func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
