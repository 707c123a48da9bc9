package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time
	element    *list.Element
}

// LRU is a thread-safe, size-bounded cache with least-recently-used eviction
// and an optional TTL. A zero TTL disables expiry.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]*entry[K, V]
	order      *list.List
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64

	onEvict func(key K, value V)

	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// Stats is a point-in-time view of cache activity
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Option configures an LRU
type Option[K comparable, V any] func(*LRU[K, V])

// WithCleanupInterval starts a janitor goroutine removing expired entries.
// Close stops it.
func WithCleanupInterval[K comparable, V any](interval time.Duration) Option[K, V] {
	return func(c *LRU[K, V]) {
		if interval <= 0 || c.defaultTTL <= 0 {
			return
		}
		go c.cleanup(interval)
	}
}

// WithEvictionCallback registers fn, called for every entry removed because
// of capacity or expiry. fn runs with the cache lock held and must not call
// back into the cache.
func WithEvictionCallback[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.onEvict = fn
	}
}

// WithClock overrides time.Now, for tests
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.now = now
	}
}

// NewLRU creates a cache holding at most maxSize entries (minimum 1)
func NewLRU[K comparable, V any](maxSize int, defaultTTL time.Duration, opts ...Option[K, V]) *LRU[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}

	c := &LRU[K, V]{
		items:       make(map[K]*entry[K, V]),
		order:       list.New(),
		maxSize:     maxSize,
		defaultTTL:  defaultTTL,
		now:         time.Now,
		cleanupDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it most recently used
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	if c.expired(item) {
		c.removeItem(item, true)
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(item.element)
	c.hits++
	return item.value, true
}

// Set stores value under key using the default TTL
func (c *LRU[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with a custom TTL
func (c *LRU[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = c.now().Add(ttl)
	}

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiration = expiration
		c.order.MoveToFront(existing.element)
		return
	}

	item := &entry[K, V]{key: key, value: value, expiration: expiration}
	item.element = c.order.PushFront(item)
	c.items[key] = item

	for len(c.items) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeItem(oldest.Value.(*entry[K, V]), true)
		c.evictions++
	}
}

// Delete removes key without invoking the eviction callback
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.removeItem(item, false)
	}
}

// Len returns the number of stored entries, including not yet swept expired ones
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every entry and resets statistics
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*entry[K, V])
	c.order.Init()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// GetStats returns cache statistics
func (c *LRU[K, V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Size:      len(c.items),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close stops the janitor goroutine, if any
func (c *LRU[K, V]) Close() {
	c.closeOnce.Do(func() {
		close(c.cleanupDone)
	})
}

func (c *LRU[K, V]) expired(item *entry[K, V]) bool {
	return !item.expiration.IsZero() && c.now().After(item.expiration)
}

// removeItem assumes the lock is held
func (c *LRU[K, V]) removeItem(item *entry[K, V], notify bool) {
	delete(c.items, item.key)
	c.order.Remove(item.element)
	if notify && c.onEvict != nil {
		c.onEvict(item.key, item.value)
	}
}

func (c *LRU[K, V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.cleanupDone:
			return
		}
	}
}

func (c *LRU[K, V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range c.items {
		if c.expired(item) {
			c.removeItem(item, true)
		}
	}
}
