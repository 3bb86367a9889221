package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Veraticus/appbot/internal/identity"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/store"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// adminCommand handles developer commands. Matching is on the raw text and
// case-sensitive.
func (e *Engine) adminCommand(ctx context.Context, req *request) (bool, error) {
	text := req.text
	switch {
	case strings.HasPrefix(text, "/stats"):
		return true, e.stats(ctx, req)
	case strings.HasPrefix(text, "/broadcast "):
		return true, e.broadcast(ctx, req, strings.TrimSpace(strings.TrimPrefix(text, "/broadcast ")))
	case strings.HasPrefix(text, "/unblock "):
		number := commandTarget(text, "/unblock ")
		if !e.bans.Unban(ctx, number) {
			return true, e.reply(ctx, req, replyUnblockFailed, nil)
		}
		return true, e.reply(ctx, req, replyUnblocked, map[string]any{"Number": number})
	case strings.HasPrefix(text, "/block "):
		number := commandTarget(text, "/block ")
		e.bans.Ban(ctx, number, moderation.ReasonManual)
		return true, e.reply(ctx, req, replyBlocked, map[string]any{"Number": number})
	case text == "/admin":
		return true, e.reply(ctx, req, replyAdmin, nil)
	}
	return false, nil
}

// commandTarget extracts the phone argument; keys are digit strings.
func commandTarget(text, prefix string) string {
	arg := strings.TrimSpace(strings.TrimPrefix(text, prefix))
	if digits := identity.Digits(arg); digits != "" {
		return digits
	}
	return arg
}

func (e *Engine) stats(ctx context.Context, req *request) error {
	if !e.store.Enabled() {
		return e.reply(ctx, req, replyDBUnavailable, nil)
	}
	st, err := e.store.Stats(ctx)
	if err != nil {
		e.logger.Warn("failed to load stats", slog.Any("error", err))
		return e.reply(ctx, req, replyDBUnavailable, nil)
	}
	return e.reply(ctx, req, replyStats, st)
}

func (e *Engine) broadcast(ctx context.Context, req *request, message string) error {
	if !e.store.Enabled() {
		return e.reply(ctx, req, replyDBUnavailable, nil)
	}
	if message == "" {
		return nil
	}
	if err := e.reply(ctx, req, replyBroadcastStarted, nil); err != nil {
		return err
	}
	text, err := e.replies.Render(replyBroadcastMessage, map[string]any{"Message": message})
	if err != nil {
		return err
	}
	result, err := e.broadcaster.Broadcast(ctx, text)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return e.reply(ctx, req, replyDBUnavailable, nil)
		}
		if ctx.Err() != nil {
			return err
		}
		e.logger.Warn("broadcast incomplete", slog.Any("error", err))
	}
	return e.reply(ctx, req, replyBroadcastDone, result)
}

// deliverBroadcast sends one broadcast message with typing but without quoting.
func (e *Engine) deliverBroadcast(ctx context.Context, jid, text string) error {
	if err := e.pacer.Typing(ctx, jid); err != nil {
		return err
	}
	_, err := e.messenger.Send(ctx, jid, whatsapp.TextContent(text), nil)
	return err
}
