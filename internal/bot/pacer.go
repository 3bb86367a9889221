package bot

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Veraticus/appbot/internal/retry"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// JitterFunc returns a duration in [lo, hi].
type JitterFunc func(lo, hi time.Duration) time.Duration

// Jitter picks a uniformly random duration in [lo, hi].
func Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// Pacer makes outbound traffic look typed by a person: presence subscription,
// a composing indicator and randomized gaps before every send.
type Pacer struct {
	messenger whatsapp.Messenger
	jitter    JitterFunc
	logger    *slog.Logger
	enabled   bool
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// WithJitter replaces the random delay source.
func WithJitter(j JitterFunc) PacerOption {
	return func(p *Pacer) { p.jitter = j }
}

// WithPacing turns the typing simulation on or off.
func WithPacing(enabled bool) PacerOption {
	return func(p *Pacer) { p.enabled = enabled }
}

// WithPacerLogger sets a custom logger.
func WithPacerLogger(logger *slog.Logger) PacerOption {
	return func(p *Pacer) { p.logger = logger }
}

// NewPacer creates an enabled pacer.
func NewPacer(m whatsapp.Messenger, opts ...PacerOption) *Pacer {
	p := &Pacer{messenger: m, jitter: Jitter, logger: slog.Default(), enabled: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Typing shows the composing indicator in jid for a second or so. Presence
// failures are logged and otherwise ignored.
func (p *Pacer) Typing(ctx context.Context, jid string) error {
	if !p.enabled {
		return nil
	}
	if err := p.messenger.SubscribePresence(ctx, jid); err != nil {
		p.logger.Debug("presence subscribe failed", slog.String("jid", jid), slog.Any("error", err))
		return nil
	}
	if err := retry.Sleep(ctx, p.jitter(300*time.Millisecond, 800*time.Millisecond)); err != nil {
		return err
	}
	if err := p.messenger.SendPresence(ctx, jid, whatsapp.PresenceComposing); err != nil {
		p.logger.Debug("composing presence failed", slog.String("jid", jid), slog.Any("error", err))
		return nil
	}
	typing := time.Second
	if p.jitter(0, 1) == 1 {
		typing = 1500 * time.Millisecond
	}
	if err := retry.Sleep(ctx, typing); err != nil {
		return err
	}
	if err := p.messenger.SendPresence(ctx, jid, whatsapp.PresencePaused); err != nil {
		p.logger.Debug("paused presence failed", slog.String("jid", jid), slog.Any("error", err))
	}
	return retry.Sleep(ctx, p.jitter(200*time.Millisecond, 500*time.Millisecond))
}

// Send types, waits a little longer and sends content to jid.
func (p *Pacer) Send(ctx context.Context, jid string, content whatsapp.Content, quoted *whatsapp.Message) (*whatsapp.SentMessage, error) {
	if p.enabled {
		if err := p.Typing(ctx, jid); err != nil {
			return nil, err
		}
		if err := retry.Sleep(ctx, p.jitter(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
			return nil, err
		}
	}
	return p.messenger.Send(ctx, jid, content, quoted)
}

// Pause waits a random time in [lo, hi] unless pacing is off.
func (p *Pacer) Pause(ctx context.Context, lo, hi time.Duration) error {
	if !p.enabled {
		return ctx.Err()
	}
	return retry.Sleep(ctx, p.jitter(lo, hi))
}
