package bot

import (
	"context"
	"log/slog"

	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/retry"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// HandleCall rejects incoming calls and bans the caller. Developers may call.
func (e *Engine) HandleCall(_ context.Context, call *whatsapp.Call) {
	if call == nil || call.Status != whatsapp.CallOffer {
		return
	}
	e.spawn(func(ctx context.Context) {
		caller := e.resolver.ResolveJID(ctx, call.From)
		if e.developers.Contains(caller) {
			e.logger.Debug("ignoring call from developer", slog.String("user", caller))
			return
		}
		e.logger.Warn("rejecting call", slog.String("user", caller), slog.String("call_id", call.ID))

		if err := e.messenger.RejectCall(ctx, call.ID, call.From); err != nil {
			e.logger.Warn("failed to reject call", slog.String("call_id", call.ID), slog.Any("error", err))
		}
		e.bans.Ban(ctx, caller, moderation.ReasonCall)

		text, err := e.replies.Render(replyCallBan, nil)
		if err != nil {
			e.logger.Error("failed to render call ban", slog.Any("error", err))
			return
		}
		if _, err := e.pacer.Send(ctx, call.From, whatsapp.TextContent(text), nil); err != nil && ctx.Err() == nil {
			e.logger.Warn("failed to notify caller", slog.String("user", caller), slog.Any("error", err))
		}
	})
}

// HandleConnection reacts to the bridge's connection state. It only fails
// when pairing is needed and no phone number is configured.
func (e *Engine) HandleConnection(_ context.Context, u *whatsapp.ConnectionUpdate) error {
	if u == nil {
		return nil
	}
	switch u.Connection {
	case whatsapp.ConnectionConnecting:
		if !u.NeedsPairing() || !e.pairingRequested.CompareAndSwap(false, true) {
			return nil
		}
		if e.settings.PairingPhone == "" {
			return ErrNoPairingPhone
		}
		e.spawn(e.requestPairingCode)

	case whatsapp.ConnectionOpen:
		e.logger.Info("connected")
		e.pairingRequested.Store(false)
		e.spawn(e.onOpen)

	case whatsapp.ConnectionClose:
		if u.LoggedOut() {
			e.logger.Error("session logged out, pair again to continue")
			return nil
		}
		var reason string
		if u.LastDisconnect != nil {
			reason = u.LastDisconnect.Error
		}
		delay := e.jitter(e.settings.Reconnect[0], e.settings.Reconnect[1])
		e.logger.Warn("connection closed, reconnecting", slog.String("reason", reason), slog.Duration("in", delay))
		e.spawn(func(ctx context.Context) {
			if err := retry.Sleep(ctx, delay); err != nil {
				return
			}
			if err := e.messenger.Connect(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("reconnect failed", slog.Any("error", err))
			}
		})
	}
	return nil
}

func (e *Engine) requestPairingCode(ctx context.Context) {
	if err := retry.Sleep(ctx, e.settings.PairingDelay); err != nil {
		return
	}
	code, err := e.messenger.RequestPairingCode(ctx, e.settings.PairingPhone)
	if err != nil {
		e.pairingRequested.Store(false)
		e.logger.Error("failed to request pairing code", slog.Any("error", err))
		return
	}
	e.logger.Info("pairing code ready, enter it under Linked devices", slog.String("code", code))
}

// onOpen hides the bot's presence and refreshes its profile picture.
func (e *Engine) onOpen(ctx context.Context) {
	if err := e.messenger.SendPresence(ctx, "", whatsapp.PresenceUnavailable); err != nil {
		e.logger.Debug("failed to set presence", slog.Any("error", err))
	}
	if err := retry.Sleep(ctx, e.jitter(e.settings.ProfileDelay[0], e.settings.ProfileDelay[1])); err != nil {
		return
	}
	path, ok := e.profile.Path(ctx)
	if !ok {
		return
	}
	if err := e.messenger.UpdateProfilePicture(ctx, "", path); err != nil {
		e.logger.Warn("failed to update profile picture", slog.Any("error", err))
	}
}
