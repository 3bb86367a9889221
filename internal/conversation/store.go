// Package conversation keeps the per-conversation session state of the bot.
package conversation

import (
	"log/slog"
	"time"

	"github.com/Veraticus/appbot/internal/cache"
)

const (
	// DefaultCapacity bounds the number of live sessions.
	DefaultCapacity = 10000
	// DefaultSessionTTL expires sessions idle for this long.
	DefaultSessionTTL = 24 * time.Hour
)

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	now      func() time.Time
	logger   *slog.Logger
	onEvict  func(key string)
	capacity int
	ttl      time.Duration
}

// WithCapacity sets the maximum number of sessions kept.
func WithCapacity(n int) StoreOption {
	return func(c *storeConfig) { c.capacity = n }
}

// WithTTL sets the idle expiry.
func WithTTL(d time.Duration) StoreOption {
	return func(c *storeConfig) { c.ttl = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) { c.now = now }
}

// WithEvictionHook is called with the key of every session dropped by
// capacity or expiry.
func WithEvictionHook(fn func(key string)) StoreOption {
	return func(c *storeConfig) { c.onEvict = fn }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) { c.logger = logger }
}

// Store maps conversation keys to sessions. Busy sessions are never
// evicted.
type Store struct {
	sessions *cache.LRU[string, *Session]
	logger   *slog.Logger
}

// NewStore creates a session store.
func NewStore(opts ...StoreOption) *Store {
	cfg := storeConfig{
		capacity: DefaultCapacity,
		ttl:      DefaultSessionTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{logger: cfg.logger.With(slog.String("component", "conversation.store"))}
	s.sessions = cache.NewLRU(cache.Options[string, *Session]{
		Capacity: cfg.capacity,
		TTL:      cfg.ttl,
		Now:      cfg.now,
		Pinned:   (*Session).Busy,
		OnEvict: func(key string, _ *Session) {
			s.logger.Debug("session evicted", slog.String("conversation", key))
			if cfg.onEvict != nil {
				cfg.onEvict(key)
			}
		},
	})
	return s
}

// GetOrCreate returns the session for key, creating an idle one on first use.
// created reports whether this call made it.
func (s *Store) GetOrCreate(key string) (sess *Session, created bool) {
	return s.sessions.GetOrPut(key, func() *Session { return newSession(key) })
}

// Peek returns the session without refreshing it.
func (s *Store) Peek(key string) (*Session, bool) {
	return s.sessions.Peek(key)
}

// Evict drops the session for key. It reports whether one existed.
func (s *Store) Evict(key string) bool {
	return s.sessions.Remove(key)
}

// CleanupExpired removes idle sessions and returns how many were removed.
func (s *Store) CleanupExpired() int {
	return s.sessions.Sweep()
}

// Stats returns current session statistics.
func (s *Store) Stats() map[string]int {
	stats := map[string]int{"total": 0, "downloading": 0}
	s.sessions.Range(func(_ string, sess *Session) bool {
		stats["total"]++
		if sess.IsDownloading() {
			stats["downloading"]++
		}
		return true
	})
	return stats
}
