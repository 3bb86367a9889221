package cache

import "time"

// SetClock replaces the LRU clock for tests.
func (c *LRU[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetClock replaces the group cache clock for tests.
func (g *GroupCache[T]) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}
