package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/appbot/internal/catalog"
	"github.com/Veraticus/appbot/internal/conversation"
	"github.com/Veraticus/appbot/internal/download"
	"github.com/Veraticus/appbot/internal/events"
	"github.com/Veraticus/appbot/internal/identity"
	"github.com/Veraticus/appbot/internal/store"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// downloadApp fetches entry and delivers it as a document. The session is
// always returned to waiting for a search afterwards.
func (e *Engine) downloadApp(ctx context.Context, req *request, sess *conversation.Session, entry catalog.Entry) error {
	e.react(ctx, req, reactionEmoji(entry.Index))
	e.deleteList(ctx, req, sess)

	sess.BeginDownload()
	e.limiter.StartBurst(req.user)
	defer func() {
		sess.FinishDownload()
		e.limiter.StopBurst(req.user)
	}()

	if entry.AppID == "" {
		return e.reply(ctx, req, replyBadApp, nil)
	}
	logger := e.logger.With(slog.String("user", req.user), slog.String("app_id", entry.AppID))

	e.react(ctx, req, "⏳")
	details, err := e.catalog.Details(ctx, entry.AppID)
	if err != nil {
		return fmt.Errorf("app details: %w", err)
	}
	if details.AppID == "" {
		details.AppID = entry.AppID
	}
	if details.Title == "" {
		details.Title = entry.Title
	}

	if details.Icon != "" && e.stickers != nil {
		e.sendSticker(ctx, req, details.Icon, logger)
	}

	e.react(ctx, req, "📥")
	logger.Info("downloading app", slog.String("title", details.Title))
	art, err := e.downloader.Fetch(ctx, details.AppID, details.Title)
	var tooLarge *download.TooLargeError
	switch {
	case errors.As(err, &tooLarge):
		e.react(ctx, req, "❌")
		logger.Info("app too large", slog.Int64("size", tooLarge.Size))
		return e.reply(ctx, req, replyOversize, map[string]any{"Size": tooLarge.Size})
	case errors.Is(err, download.ErrNoArtifact):
		logger.Warn("no artifact", slog.Any("error", err))
		return e.reply(ctx, req, replyDownloadFailed, nil)
	case err != nil:
		return fmt.Errorf("download %s: %w", details.AppID, err)
	}
	defer e.downloader.Discard(art)

	e.react(ctx, req, "✅")
	e.recordDownload(ctx, req, details, art, logger)

	caption, err := e.replies.Render(replyAppInfo, map[string]any{
		"Title":    details.Title,
		"FileType": art.FileType,
		"Size":     art.Size,
		"Installs": details.Installs,
	})
	if err != nil {
		return err
	}
	doc := whatsapp.DocumentContent(art.Path, art.FileName, art.MimeType(), caption)
	if _, err := e.pacer.Send(ctx, req.chat, doc, req.msg); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	logger.Info("app delivered", slog.String("file", art.FileName), slog.String("source", art.Source))

	if art.FileType == download.TypeXAPK {
		if err := e.reply(ctx, req, replyXAPKTutorial, nil); err != nil {
			return err
		}
	}
	return e.reply(ctx, req, replyFollowUp, nil)
}

func (e *Engine) sendSticker(ctx context.Context, req *request, iconURL string, logger *slog.Logger) {
	path, err := e.stickers.FromURL(ctx, iconURL)
	if err != nil {
		logger.Debug("sticker unavailable", slog.Any("error", err))
		return
	}
	defer e.stickers.Discard(path)
	if _, err := e.pacer.Send(ctx, req.chat, whatsapp.StickerContent(path), req.msg); err != nil {
		logger.Debug("failed to send sticker", slog.Any("error", err))
	}
}

func (e *Engine) recordDownload(ctx context.Context, req *request, details catalog.Details, art *download.Artifact, logger *slog.Logger) {
	if identity.ValidPhone(req.user) {
		err := e.store.LogDownload(ctx, store.Download{
			UserPhone: req.user,
			AppID:     details.AppID,
			AppName:   details.Title,
			FileType:  art.FileType,
			FileSize:  art.Size,
		})
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			logger.Warn("failed to log download", slog.Any("error", err))
		}
	}
	err := e.events.PublishDownload(ctx, events.Download{
		At:       time.Now(),
		Phone:    req.user,
		AppID:    details.AppID,
		AppName:  details.Title,
		FileType: art.FileType,
		Source:   art.Source,
		FileSize: art.Size,
	})
	if err != nil {
		logger.Warn("failed to publish download", slog.Any("error", err))
	}
}
