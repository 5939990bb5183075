// Package cache provides a bounded, time-expiring LRU store used in front of
// authorization decisions and directory lookups.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultCapacity      = 1000
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Config sizes one cache instance
type Config struct {
	Capacity      int           `mapstructure:"capacity" validate:"gte=0"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	Size      int
}

// Observer receives cache events, typically to feed metrics
type Observer interface {
	Hit()
	Miss()
	Evicted()
	Expired(n int)
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	prev      *entry[K, V]
	next      *entry[K, V]
}

// LRU is a thread-safe least-recently-used cache with per-entry TTL.
//
// An entry is visible iff now < expiresAt. Expired entries are removed on
// access and by a background sweep that runs every SweepInterval.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*entry[K, V]

	// head.next is most recently used, tail.prev is least recently used
	head *entry[K, V]
	tail *entry[K, V]

	now      func() time.Time
	observer Observer

	hits, misses, evictions, expired uint64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customises an LRU
type Option[K comparable, V any] func(*LRU[K, V])

// WithClock replaces time.Now, mainly for tests
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *LRU[K, V]) { c.now = now }
}

// WithObserver attaches an event observer
func WithObserver[K comparable, V any](o Observer) Option[K, V] {
	return func(c *LRU[K, V]) { c.observer = o }
}

// New creates a cache and starts its sweeper. Call Close to stop it.
func New[K comparable, V any](cfg Config, opts ...Option[K, V]) *LRU[K, V] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	c := &LRU[K, V]{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		items:    make(map[K]*entry[K, V], cfg.Capacity),
		head:     &entry[K, V]{},
		tail:     &entry[K, V]{},
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	c.head.next = c.tail
	c.tail.prev = c.head

	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.sweep(cfg.SweepInterval)

	return c
}

// Get returns the value for key and marks it most recently used. Expired
// entries are removed and reported as absent.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		c.notify(func(o Observer) { o.Miss() })
		return zero, false
	}

	if !c.now().Before(e.expiresAt) {
		c.removeEntry(e)
		c.misses++
		c.expired++
		c.notify(func(o Observer) { o.Miss(); o.Expired(1) })
		return zero, false
	}

	c.moveToFront(e)
	c.hits++
	c.notify(func(o Observer) { o.Hit() })
	return e.value, true
}

// Set inserts or replaces key. The entry becomes most recently used and its
// TTL restarts. Inserting into a full cache evicts the least recently used
// entry first.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	for len(c.items) >= c.capacity {
		c.evictOldest()
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: expiresAt}
	c.addToFront(e)
	c.items[key] = e
}

// Delete removes key and reports whether it was present
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.removeEntry(e)
		return true
	}
	return false
}

// Clear drops every entry
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*entry[K, V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the number of stored entries, including expired ones not yet
// swept
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes all expired entries and returns how many were removed
func (c *LRU[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if !now.Before(e.expiresAt) {
			c.removeEntry(e)
			removed++
		}
		e = prev
	}
	if removed > 0 {
		c.expired += uint64(removed)
		c.notify(func(o Observer) { o.Expired(removed) })
	}
	return removed
}

// Stats returns counters and the current size
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      len(c.items),
	}
}

// Capacity returns the configured maximum number of entries
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// TTL returns the configured time-to-live
func (c *LRU[K, V]) TTL() time.Duration {
	return c.ttl
}

// Close stops the background sweeper. It is safe to call more than once.
func (c *LRU[K, V]) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return nil
}

func (c *LRU[K, V]) sweep(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}

// Internal methods (must be called with lock held)

func (c *LRU[K, V]) notify(fn func(Observer)) {
	if c.observer != nil {
		fn(c.observer)
	}
}

func (c *LRU[K, V]) addToFront(e *entry[K, V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU[K, V]) moveToFront(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *LRU[K, V]) removeEntry(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	delete(c.items, e.key)
}

func (c *LRU[K, V]) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
	c.evictions++
	c.notify(func(o Observer) { o.Evicted() })
}
