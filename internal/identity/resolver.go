package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/appbot/internal/cache"
)

// Identifier map bounds.
const (
	DefaultMapCapacity = 50000
	DefaultMapTTL      = 7 * 24 * time.Hour
	mirrorTimeout      = 2 * time.Second
)

// Sender carries the identifiers the transport supplies with a message.
type Sender struct {
	Chat           string
	Participant    string
	ChatAlt        string
	ParticipantAlt string
}

// Mirror persists opaque-to-phone mappings outside the process.
type Mirror interface {
	Load(ctx context.Context, opaque string) (string, bool, error)
	Store(ctx context.Context, opaque, phone string) error
	Delete(ctx context.Context, opaque string) error
}

// Resolver maps sender identifiers to stable user keys.
type Resolver struct {
	ids    *cache.LRU[string, string]
	mirror Mirror
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*resolverConfig)

type resolverConfig struct {
	capacity int
	ttl      time.Duration
	mirror   Mirror
	logger   *slog.Logger
	onEvict  func(opaque, phone string)
}

// WithCapacity bounds the number of remembered opaque identifiers.
func WithCapacity(n int) Option {
	return func(c *resolverConfig) { c.capacity = n }
}

// WithTTL forgets opaque identifiers that have not been seen for d.
func WithTTL(d time.Duration) Option {
	return func(c *resolverConfig) { c.ttl = d }
}

// WithMirror shares mappings through an external store.
func WithMirror(m Mirror) Option {
	return func(c *resolverConfig) { c.mirror = m }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *resolverConfig) { c.logger = logger }
}

// WithEvictionHook is called whenever a mapping is dropped by capacity or expiry.
func WithEvictionHook(fn func(opaque, phone string)) Option {
	return func(c *resolverConfig) { c.onEvict = fn }
}

// NewResolver creates a resolver.
func NewResolver(opts ...Option) *Resolver {
	cfg := resolverConfig{
		capacity: DefaultMapCapacity,
		ttl:      DefaultMapTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Resolver{
		ids: cache.NewLRU(cache.Options[string, string]{
			Capacity: cfg.capacity,
			TTL:      cfg.ttl,
			OnEvict:  cfg.onEvict,
		}),
		mirror: cfg.mirror,
		logger: cfg.logger.With(slog.String("component", "identity.resolver")),
	}
}

// Resolve returns the user key for the sender of a message. It never fails:
// identifiers it cannot decode are returned with their server stripped.
func (r *Resolver) Resolve(ctx context.Context, s Sender) string {
	jid := s.Chat
	companion := s.ChatAlt
	if IsGroup(s.Chat) {
		if s.Participant != "" {
			jid = s.Participant
		}
		companion = s.ParticipantAlt
		if companion == "" {
			companion = s.ChatAlt
		}
	}
	return r.resolveJID(ctx, jid, companion)
}

// ResolveJID resolves a bare identifier, such as a caller, with no companion.
func (r *Resolver) ResolveJID(ctx context.Context, jid string) string {
	return r.resolveJID(ctx, jid, "")
}

func (r *Resolver) resolveJID(ctx context.Context, jid, companion string) string {
	decoded, ok := ParseJID(jid)
	if !ok {
		return stripServer(jid)
	}
	if decoded.Server != ServerLID {
		if decoded.User == "" {
			return stripServer(jid)
		}
		return decoded.User
	}

	if companion != "" {
		if alt, ok := ParseJID(companion); ok && alt.Server == ServerUser && alt.User != "" {
			r.remember(ctx, jid, alt.User)
			return alt.User
		}
	}

	if phone, ok := r.ids.Get(jid); ok {
		return phone
	}
	if phone, ok := r.loadMirror(ctx, jid); ok {
		r.ids.Put(jid, phone)
		return phone
	}
	return decoded.User
}

// Forget drops the mapping for an opaque identifier.
func (r *Resolver) Forget(ctx context.Context, opaque string) {
	r.ids.Remove(opaque)
	if r.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := r.mirror.Delete(mctx, opaque); err != nil {
		r.logger.WarnContext(ctx, "failed to delete mirrored identifier",
			slog.String("opaque", opaque), slog.Any("error", err))
	}
}

// Sweep drops expired mappings and returns how many were removed.
func (r *Resolver) Sweep() int {
	return r.ids.Sweep()
}

// Len returns the number of remembered mappings.
func (r *Resolver) Len() int {
	return r.ids.Len()
}

func (r *Resolver) remember(ctx context.Context, opaque, phone string) {
	if prev, ok := r.ids.Peek(opaque); ok && prev == phone {
		return
	}
	r.ids.Put(opaque, phone)
	if r.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := r.mirror.Store(mctx, opaque, phone); err != nil {
		r.logger.WarnContext(ctx, "failed to mirror identifier",
			slog.String("opaque", opaque), slog.Any("error", err))
	}
}

func (r *Resolver) loadMirror(ctx context.Context, opaque string) (string, bool) {
	if r.mirror == nil {
		return "", false
	}
	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	phone, ok, err := r.mirror.Load(mctx, opaque)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load mirrored identifier",
			slog.String("opaque", opaque), slog.Any("error", err))
		return "", false
	}
	return phone, ok
}
