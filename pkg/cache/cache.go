// Package cache implements a bounded, thread-safe LRU cache with
// idle-timeout eviction. The policy engine keys it by decision
// fingerprint; values are opaque to the cache.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictionFunc is invoked synchronously, outside the cache lock, each
// time an entry is evicted by capacity pressure or the idle sweep.
// Explicit Remove does not count as an eviction.
type EvictionFunc[K comparable, V any] func(key K, value V)

// Options configures a Cache.
type Options[K comparable, V any] struct {
	// Capacity bounds the entry count. Inserting beyond it evicts the
	// least-recently-used entry. Must be > 0.
	Capacity int

	// MaxIdle evicts entries not accessed for this long, independent of
	// capacity pressure. Zero disables idle eviction.
	MaxIdle time.Duration

	// MaxAge evicts entries this long after insertion no matter how
	// often they are hit, so a hot entry cannot outlive its bound.
	// Zero disables age eviction.
	MaxAge time.Duration

	// SweepInterval is how often the background sweep runs.
	// Defaults to half the tightest bound, floored at one second.
	SweepInterval time.Duration

	OnEvict EvictionFunc[K, V]
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
	lastAccess time.Time
	seq        uint64
}

// Cache is a mutex-guarded LRU with an optional background idle sweep.
// All operations serialize through a single lock: under contention,
// correctness wins over throughput.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	opts    Options[K, V]
	items   map[K]*list.Element
	order   *list.List // front = most recent; back = eviction candidate
	seq     uint64     // insertion counter; recency ties fall back to it
	hits    uint64
	misses  uint64
	stopCh  chan struct{}
	stopped bool

	// now is swappable for idle-eviction tests.
	now func() time.Time
}

// New creates a cache and starts the idle sweep when MaxIdle is set.
func New[K comparable, V any](opts Options[K, V]) *Cache[K, V] {
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if opts.SweepInterval <= 0 {
		bound := opts.MaxIdle
		if bound <= 0 || (opts.MaxAge > 0 && opts.MaxAge < bound) {
			bound = opts.MaxAge
		}
		if bound > 0 {
			opts.SweepInterval = bound / 2
			if opts.SweepInterval < time.Second {
				opts.SweepInterval = time.Second
			}
		}
	}

	c := &Cache[K, V]{
		opts:   opts,
		items:  make(map[K]*list.Element),
		order:  list.New(),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	if opts.MaxIdle > 0 || opts.MaxAge > 0 {
		go c.sweepLoop()
	}
	return c
}

// Put inserts or replaces a value and refreshes its recency.
func (c *Cache[K, V]) Put(key K, value V) {
	var evicted []*entry[K, V]

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		// A replaced value is a fresh store; its age restarts.
		e.insertedAt = c.now()
		e.lastAccess = e.insertedAt
		c.order.MoveToFront(el)
	} else {
		for len(c.items) >= c.opts.Capacity {
			if victim := c.evictOldestLocked(); victim != nil {
				evicted = append(evicted, victim)
			} else {
				break
			}
		}
		c.seq++
		now := c.now()
		e := &entry[K, V]{key: key, value: value, insertedAt: now, lastAccess: now, seq: c.seq}
		c.items[key] = c.order.PushFront(e)
	}
	c.mu.Unlock()

	c.notify(evicted)
}

// Get returns the value and refreshes recency. The second result is
// false on a miss; a miss is normal control flow, not an error.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expiredLocked(e, c.now()) {
		// Expired but not yet swept; treat as a miss. The sweep owns
		// eviction so the callback fires exactly once.
		c.misses++
		var zero V
		return zero, false
	}
	e.lastAccess = c.now()
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Remove deletes an entry without invoking the eviction callback.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Keys returns a snapshot of the cached keys, most recent first.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

// Len returns the current entry count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the cumulative hit and miss counters.
func (c *Cache[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Close stops the background sweep. The cache remains usable.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
}

// evictOldestLocked removes the LRU entry (recency ties broken by the
// earliest insertion sequence) and returns it. Caller holds the lock.
func (c *Cache[K, V]) evictOldestLocked() *entry[K, V] {
	victim := c.order.Back()
	if victim == nil {
		return nil
	}
	e := victim.Value.(*entry[K, V])
	// The list already orders equal-recency entries by insertion (new
	// entries push to the front), but a replaced value keeps its
	// position; scan the tail for an older insertion at the same access
	// time so the tie-break is explicit.
	for el := victim.Prev(); el != nil; el = el.Prev() {
		cand := el.Value.(*entry[K, V])
		if !cand.lastAccess.Equal(e.lastAccess) {
			break
		}
		if cand.seq < e.seq {
			victim, e = el, cand
		}
	}
	c.order.Remove(victim)
	delete(c.items, e.key)
	return e
}

func (c *Cache[K, V]) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// expiredLocked reports whether e has passed its idle or age bound.
// Caller holds the lock.
func (c *Cache[K, V]) expiredLocked(e *entry[K, V], now time.Time) bool {
	if c.opts.MaxIdle > 0 && now.Sub(e.lastAccess) > c.opts.MaxIdle {
		return true
	}
	if c.opts.MaxAge > 0 && now.Sub(e.insertedAt) > c.opts.MaxAge {
		return true
	}
	return false
}

// sweep evicts every entry past its idle or age bound.
func (c *Cache[K, V]) sweep() {
	var evicted []*entry[K, V]

	c.mu.Lock()
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[K, V])
		if c.expiredLocked(e, now) {
			c.order.Remove(el)
			delete(c.items, e.key)
			evicted = append(evicted, e)
		}
		el = prev
	}
	c.mu.Unlock()

	c.notify(evicted)
}

func (c *Cache[K, V]) notify(evicted []*entry[K, V]) {
	if c.opts.OnEvict == nil {
		return
	}
	for _, e := range evicted {
		c.opts.OnEvict(e.key, e.value)
	}
}
