package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Veraticus/appbot/internal/identity"
	"github.com/Veraticus/appbot/internal/retry"
	"github.com/Veraticus/appbot/internal/store"
)

// Pause between broadcast recipients.
const (
	MinBroadcastPause = 5 * time.Second
	MaxBroadcastPause = 10 * time.Second
)

// Deliverer sends one broadcast message to a chat.
type Deliverer interface {
	Deliver(ctx context.Context, jid, text string) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, jid, text string) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, jid, text string) error { return f(ctx, jid, text) }

// BroadcastResult counts deliveries.
type BroadcastResult struct {
	Sent   int
	Failed int
}

// Broadcaster sends a developer message to every known user.
type Broadcaster struct {
	store   store.Store
	deliver Deliverer
	pause   func() time.Duration
	logger  *slog.Logger
}

// BroadcastOption configures a Broadcaster.
type BroadcastOption func(*Broadcaster)

// WithPause overrides the wait after each successful delivery.
func WithPause(pause func() time.Duration) BroadcastOption {
	return func(b *Broadcaster) { b.pause = pause }
}

// WithBroadcastLogger sets a custom logger.
func WithBroadcastLogger(logger *slog.Logger) BroadcastOption {
	return func(b *Broadcaster) { b.logger = logger }
}

// NewBroadcaster creates a broadcaster over the users in st.
func NewBroadcaster(st store.Store, deliver Deliverer, opts ...BroadcastOption) *Broadcaster {
	if st == nil {
		st = store.Noop{}
	}
	b := &Broadcaster{
		store:   st,
		deliver: deliver,
		pause:   func() time.Duration { return randomBetween(MinBroadcastPause, MaxBroadcastPause) },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("component", "moderation.broadcast"))
	return b
}

// Broadcast delivers text to every stored user. Numbers that are not valid
// phones count as failures. Without a store it returns store.ErrUnavailable.
// When ctx ends mid-run the partial counts are returned with ctx's error.
func (b *Broadcaster) Broadcast(ctx context.Context, text string) (BroadcastResult, error) {
	var res BroadcastResult
	if !b.store.Enabled() {
		return res, store.ErrUnavailable
	}
	phones, err := b.store.UserPhones(ctx)
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}

	b.logger.InfoContext(ctx, "broadcast started", slog.Int("recipients", len(phones)))
	for _, phone := range phones {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !identity.ValidPhone(phone) {
			res.Failed++
			continue
		}
		if err := b.deliver.Deliver(ctx, identity.UserJID(identity.Digits(phone)), text); err != nil {
			b.logger.WarnContext(ctx, "broadcast delivery failed", slog.String("user", phone), slog.Any("error", err))
			res.Failed++
			continue
		}
		res.Sent++
		if err := retry.Sleep(ctx, b.pause()); err != nil {
			return res, err
		}
	}
	b.logger.InfoContext(ctx, "broadcast finished", slog.Int("sent", res.Sent), slog.Int("failed", res.Failed))
	return res, nil
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
