package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// GroupMetadataTTL is how long fetched group metadata stays valid.
const GroupMetadataTTL = 300 * time.Second

type groupEntry[T any] struct {
	fetched time.Time
	data    T
}

// GroupCache caches group metadata per group id for GroupMetadataTTL.
// Concurrent misses for the same group share a single fetch.
type GroupCache[T any] struct {
	entries map[string]groupEntry[T]
	flight  singleflight.Group
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewGroupCache creates a group metadata cache with the default TTL.
func NewGroupCache[T any]() *GroupCache[T] {
	return &GroupCache[T]{
		entries: make(map[string]groupEntry[T]),
		ttl:     GroupMetadataTTL,
		now:     time.Now,
		logger:  slog.Default().With(slog.String("component", "cache.group")),
	}
}

// Cached returns fresh metadata for jid without fetching.
func (g *GroupCache[T]) Cached(jid string) (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var zero T
	ent, ok := g.entries[jid]
	if !ok || g.now().Sub(ent.fetched) >= g.ttl {
		return zero, false
	}
	return ent.data, true
}

// Get returns fresh metadata for jid, calling fetch on a miss.
// A failed fetch is logged and reported as a miss.
func (g *GroupCache[T]) Get(ctx context.Context, jid string, fetch func(context.Context) (T, error)) (T, bool) {
	if data, ok := g.Cached(jid); ok {
		return data, true
	}

	v, err, _ := g.flight.Do(jid, func() (any, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.entries[jid] = groupEntry[T]{data: data, fetched: g.now()}
		g.mu.Unlock()
		return data, nil
	})
	if err != nil {
		g.logger.WarnContext(ctx, "failed to fetch group metadata",
			slog.String("group", jid),
			slog.Any("error", err))
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Invalidate drops the cached metadata for jid.
func (g *GroupCache[T]) Invalidate(jid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, jid)
}

// CleanupExpired removes stale entries and returns how many were removed.
func (g *GroupCache[T]) CleanupExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for jid, ent := range g.entries {
		if now.Sub(ent.fetched) >= g.ttl {
			delete(g.entries, jid)
			removed++
		}
	}
	return removed
}
