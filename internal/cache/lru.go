// Package cache provides the bounded, time-expiring in-memory stores the bot
// keeps for the lifetime of the process.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Options configures an LRU.
type Options[K comparable, V any] struct {
	// Capacity bounds the number of entries. Zero means unbounded.
	Capacity int
	// TTL expires entries that have not been touched for this long. Zero disables expiry.
	TTL time.Duration
	// OnEvict is called for entries removed by capacity or expiry, never for Remove.
	OnEvict func(key K, value V)
	// Pinned reports entries that must survive capacity and expiry eviction.
	Pinned func(value V) bool
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

type lruEntry[K comparable, V any] struct {
	key     K
	value   V
	touched time.Time
}

// LRU is a thread-safe least-recently-used map with an optional idle TTL.
type LRU[K comparable, V any] struct {
	items map[K]*list.Element
	order *list.List
	opts  Options[K, V]
	now   func() time.Time
	mu    sync.Mutex
}

// NewLRU creates an LRU with the given options.
func NewLRU[K comparable, V any](opts Options[K, V]) *LRU[K, V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &LRU[K, V]{
		items: make(map[K]*list.Element),
		order: list.New(),
		opts:  opts,
		now:   now,
	}
}

// Get returns the value for key and marks it as recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	var evicted []*lruEntry[K, V]
	defer func() {
		c.mu.Unlock()
		c.notify(evicted)
	}()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := elem.Value.(*lruEntry[K, V])
	now := c.now()
	if c.expired(ent, now) && !c.pinned(ent) {
		c.removeElement(elem)
		evicted = append(evicted, ent)
		return zero, false
	}
	ent.touched = now
	c.order.MoveToFront(elem)
	return ent.value, true
}

// Peek returns the value for key without changing its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := elem.Value.(*lruEntry[K, V])
	if c.expired(ent, c.now()) && !c.pinned(ent) {
		return zero, false
	}
	return ent.value, true
}

// Put stores value under key, evicting the least recently used entries
// when the capacity is exceeded.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	var evicted []*lruEntry[K, V]
	defer func() {
		c.mu.Unlock()
		c.notify(evicted)
	}()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*lruEntry[K, V])
		ent.value = value
		ent.touched = now
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value, touched: now})
	evicted = c.trimLocked()
}

// trimLocked evicts from the back until the capacity holds, skipping pinned entries.
func (c *LRU[K, V]) trimLocked() []*lruEntry[K, V] {
	if c.opts.Capacity <= 0 {
		return nil
	}
	var evicted []*lruEntry[K, V]
	for elem := c.order.Back(); elem != nil && c.order.Len() > c.opts.Capacity; {
		prev := elem.Prev()
		ent := elem.Value.(*lruEntry[K, V])
		if !c.pinned(ent) {
			c.removeElement(elem)
			evicted = append(evicted, ent)
		}
		elem = prev
	}
	return evicted
}

// GetOrPut returns the live value for key, or stores and returns the value
// produced by create. The boolean reports whether create was called.
// create runs under the cache lock and must not call back into the cache.
func (c *LRU[K, V]) GetOrPut(key K, create func() V) (V, bool) {
	c.mu.Lock()
	var evicted []*lruEntry[K, V]
	defer func() {
		c.mu.Unlock()
		c.notify(evicted)
	}()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*lruEntry[K, V])
		if !c.expired(ent, now) || c.pinned(ent) {
			ent.touched = now
			c.order.MoveToFront(elem)
			return ent.value, false
		}
		c.removeElement(elem)
		evicted = append(evicted, ent)
	}

	v := create()
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: v, touched: now})
	evicted = append(evicted, c.trimLocked()...)
	return v, true
}

// Remove deletes key without invoking OnEvict. It reports whether the key existed.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Sweep removes every expired, unpinned entry and returns how many were removed.
func (c *LRU[K, V]) Sweep() int {
	if c.opts.TTL <= 0 {
		return 0
	}

	c.mu.Lock()
	var evicted []*lruEntry[K, V]
	now := c.now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*lruEntry[K, V])
		if c.expired(ent, now) && !c.pinned(ent) {
			c.removeElement(elem)
			evicted = append(evicted, ent)
		}
		elem = prev
	}
	c.mu.Unlock()

	c.notify(evicted)
	return len(evicted)
}

// Len returns the number of stored entries, expired or not.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Range calls fn for each entry from most to least recently used until fn returns false.
func (c *LRU[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.Lock()
	snapshot := make([]*lruEntry[K, V], 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		snapshot = append(snapshot, elem.Value.(*lruEntry[K, V]))
	}
	c.mu.Unlock()

	for _, ent := range snapshot {
		if !fn(ent.key, ent.value) {
			return
		}
	}
}

func (c *LRU[K, V]) expired(ent *lruEntry[K, V], now time.Time) bool {
	return c.opts.TTL > 0 && now.Sub(ent.touched) > c.opts.TTL
}

func (c *LRU[K, V]) pinned(ent *lruEntry[K, V]) bool {
	return c.opts.Pinned != nil && c.opts.Pinned(ent.value)
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	ent := elem.Value.(*lruEntry[K, V])
	c.order.Remove(elem)
	delete(c.items, ent.key)
}

func (c *LRU[K, V]) notify(evicted []*lruEntry[K, V]) {
	if c.opts.OnEvict == nil {
		return
	}
	for _, ent := range evicted {
		c.opts.OnEvict(ent.key, ent.value)
	}
}
