package moderation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/appbot/internal/events"
	"github.com/Veraticus/appbot/internal/store"
)

// DefaultStoreTimeout bounds each blacklist query.
const DefaultStoreTimeout = 3 * time.Second

// BurstStopper discards a user's burst tracker.
type BurstStopper interface {
	StopBurst(key string)
}

// BanList is the in-memory ban set backed by the store. Store errors never
// fail a check: the memory set is authoritative for the running process.
type BanList struct {
	banned    map[string]struct{}
	store     store.Store
	publisher events.Publisher
	bursts    BurstStopper
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	mu        sync.RWMutex
}

// BanOption configures a BanList.
type BanOption func(*BanList)

// WithPublisher publishes ban and unban events.
func WithPublisher(p events.Publisher) BanOption {
	return func(b *BanList) { b.publisher = p }
}

// WithBurstStopper clears burst tracking on unban.
func WithBurstStopper(s BurstStopper) BanOption {
	return func(b *BanList) { b.bursts = s }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) BanOption {
	return func(b *BanList) { b.logger = logger }
}

// WithStoreTimeout bounds each store call. A lookup that times out counts
// as not banned.
func WithStoreTimeout(d time.Duration) BanOption {
	return func(b *BanList) { b.timeout = d }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BanOption {
	return func(b *BanList) { b.now = now }
}

// NewBanList creates a ban list. A nil store behaves like store.Noop.
func NewBanList(st store.Store, opts ...BanOption) *BanList {
	if st == nil {
		st = store.Noop{}
	}
	b := &BanList{
		banned:    make(map[string]struct{}),
		store:     st,
		publisher: events.Noop{},
		logger:    slog.Default(),
		now:       time.Now,
		timeout:   DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("component", "moderation.banlist"))
	return b
}

// IsBanned checks memory first, then the store. A store hit is cached.
func (b *BanList) IsBanned(ctx context.Context, key string) bool {
	b.mu.RLock()
	_, ok := b.banned[key]
	b.mu.RUnlock()
	if ok {
		return true
	}

	if !b.store.Enabled() {
		return false
	}
	sctx, cancel := b.storeContext(ctx)
	defer cancel()
	listed, err := b.store.IsBlacklisted(sctx, key)
	if err != nil {
		b.logger.WarnContext(ctx, "blacklist lookup failed", slog.String("user", key), slog.Any("error", err))
		return false
	}
	if listed {
		b.mu.Lock()
		b.banned[key] = struct{}{}
		b.mu.Unlock()
	}
	return listed
}

// Ban adds key to the ban set and persists it.
func (b *BanList) Ban(ctx context.Context, key, reason string) {
	b.mu.Lock()
	b.banned[key] = struct{}{}
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "user banned", slog.String("user", key), slog.String("reason", reason))

	sctx, cancel := b.storeContext(ctx)
	defer cancel()
	if err := b.store.AddToBlacklist(sctx, key, reason); err != nil {
		b.logger.ErrorContext(ctx, "failed to persist ban", slog.String("user", key), slog.Any("error", err))
	}
	b.publish(ctx, events.Ban{Phone: key, Reason: reason, Banned: true})
}

// Unban removes key from the ban set and the store, and discards its burst
// tracker. It returns false only when the store delete fails.
func (b *BanList) Unban(ctx context.Context, key string) bool {
	b.mu.Lock()
	delete(b.banned, key)
	b.mu.Unlock()

	if b.bursts != nil {
		b.bursts.StopBurst(key)
	}
	b.logger.InfoContext(ctx, "user unbanned", slog.String("user", key))

	sctx, cancel := b.storeContext(ctx)
	defer cancel()
	if err := b.store.RemoveFromBlacklist(sctx, key); err != nil {
		b.logger.ErrorContext(ctx, "failed to remove ban", slog.String("user", key), slog.Any("error", err))
		return false
	}
	b.publish(ctx, events.Ban{Phone: key, Banned: false})
	return true
}

// Len returns the number of bans held in memory.
func (b *BanList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.banned)
}

func (b *BanList) publish(ctx context.Context, ev events.Ban) {
	ev.At = b.now()
	if err := b.publisher.PublishBan(ctx, ev); err != nil {
		b.logger.WarnContext(ctx, "failed to publish ban event", slog.String("user", ev.Phone), slog.Any("error", err))
	}
}

func (b *BanList) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}
