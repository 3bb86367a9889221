// Package bot is the conversational core: it turns inbound chat events into
// searches, downloads and moderation actions, one conversation at a time.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"

	"github.com/Veraticus/appbot/internal/catalog"
	"github.com/Veraticus/appbot/internal/conversation"
	"github.com/Veraticus/appbot/internal/download"
	"github.com/Veraticus/appbot/internal/events"
	"github.com/Veraticus/appbot/internal/identity"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/queue"
	"github.com/Veraticus/appbot/internal/ratelimit"
	"github.com/Veraticus/appbot/internal/retry"
	"github.com/Veraticus/appbot/internal/store"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

const (
	// Version is reported by the info command and the CLI.
	Version = "3.0.0"
	// DefaultVIPPassword grants VIP status when sent verbatim.
	DefaultVIPPassword = "Omar"
	// DefaultInstagram is linked from most replies.
	DefaultInstagram = "https://www.instagram.com/said91447"

	defaultUserName     = "مستخدم"
	defaultHistoryLimit = 10
	storeTimeout        = 5 * time.Second
)

var (
	// ErrNoPairingPhone means the account needs pairing but no phone number
	// was configured.
	ErrNoPairingPhone = errors.New("pairing requested but no phone number configured")
	// ErrDisconnected means the event stream from the bridge ended.
	ErrDisconnected = errors.New("event stream closed")
)

var zarchiver = catalog.Entry{
	Title:     "ZArchiver",
	AppID:     "ru.zdevs.zarchiver",
	Developer: "ZDevs",
	Score:     4.5,
	Index:     1,
}

// Downloader fetches app packages into the spool.
type Downloader interface {
	Fetch(ctx context.Context, appID, title string) (*download.Artifact, error)
	Discard(a *download.Artifact)
}

// StickerMaker turns icons into sticker files.
type StickerMaker interface {
	FromURL(ctx context.Context, iconURL string) (string, error)
	Discard(path string)
}

// Settings are the engine's tunables.
type Settings struct {
	VIPPassword    string
	PairingPhone   string
	HistoryLimit   int
	DispatchDelay  [2]time.Duration
	Reconnect      [2]time.Duration
	ProfileDelay   [2]time.Duration
	BroadcastPause [2]time.Duration
	PairingDelay   time.Duration
}

// DefaultSettings returns production timings.
func DefaultSettings() Settings {
	return Settings{
		VIPPassword:    DefaultVIPPassword,
		HistoryLimit:   defaultHistoryLimit,
		DispatchDelay:  [2]time.Duration{500 * time.Millisecond, 2 * time.Second},
		Reconnect:      [2]time.Duration{6 * time.Second, 15 * time.Second},
		ProfileDelay:   [2]time.Duration{2 * time.Second, 5 * time.Second},
		BroadcastPause: [2]time.Duration{moderation.MinBroadcastPause, moderation.MaxBroadcastPause},
		PairingDelay:   3 * time.Second,
	}
}

// Deps holds everything the engine talks to. Messenger, Catalog, Downloader
// and Replies are required; the rest get in-memory defaults.
type Deps struct {
	Messenger  whatsapp.Messenger
	Catalog    catalog.Source
	Downloader Downloader
	Stickers   StickerMaker
	Store      store.Store
	Events     events.Publisher
	Resolver   *identity.Resolver
	Sessions   *conversation.Store
	Limiter    *ratelimit.Limiter
	Developers *moderation.Developers
	VIPs       *moderation.VIPSet
	Bans       *moderation.BanList
	Replies    *Replies
	Pacer      *Pacer
	Profile    *ProfileImage
	Logger     *slog.Logger
	Jitter     JitterFunc
	Settings   Settings
}

// Engine owns all process-wide bot state.
type Engine struct {
	messenger   whatsapp.Messenger
	catalog     catalog.Source
	downloader  Downloader
	stickers    StickerMaker
	store       store.Store
	events      events.Publisher
	resolver    *identity.Resolver
	sessions    *conversation.Store
	limiter     *ratelimit.Limiter
	developers  *moderation.Developers
	vips        *moderation.VIPSet
	bans        *moderation.BanList
	broadcaster *moderation.Broadcaster
	replies     *Replies
	pacer       *Pacer
	profile     *ProfileImage
	dispatcher  *queue.Dispatcher
	gate        *queue.Dispatcher
	logger      *slog.Logger
	jitter      JitterFunc
	settings    Settings

	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	pairingRequested atomic.Bool
	panics           atomic.Int64
}

// New builds an engine from deps.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Messenger == nil:
		return nil, errors.New("messenger is required")
	case deps.Catalog == nil:
		return nil, errors.New("catalog is required")
	case deps.Downloader == nil:
		return nil, errors.New("downloader is required")
	case deps.Replies == nil:
		return nil, errors.New("replies are required")
	}

	e := &Engine{
		messenger:  deps.Messenger,
		catalog:    deps.Catalog,
		downloader: deps.Downloader,
		stickers:   deps.Stickers,
		store:      deps.Store,
		events:     deps.Events,
		resolver:   deps.Resolver,
		sessions:   deps.Sessions,
		developers: deps.Developers,
		vips:       deps.VIPs,
		replies:    deps.Replies,
		pacer:      deps.Pacer,
		profile:    deps.Profile,
		logger:     deps.Logger,
		jitter:     deps.Jitter,
		settings:   deps.Settings,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(slog.String("component", "bot"))
	if e.store == nil {
		e.store = store.Noop{}
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.jitter == nil {
		e.jitter = Jitter
	}
	if e.resolver == nil {
		e.resolver = identity.NewResolver()
	}
	if e.sessions == nil {
		e.sessions = conversation.NewStore()
	}
	if e.developers == nil {
		e.developers = moderation.NewDevelopers(moderation.DefaultDevelopers...)
	}
	if e.vips == nil {
		e.vips = moderation.NewVIPSet()
	}
	e.limiter = deps.Limiter
	if e.limiter == nil {
		e.limiter = ratelimit.New(moderation.Privileges{Developers: e.developers, VIPs: e.vips})
	}
	e.bans = deps.Bans
	if e.bans == nil {
		e.bans = moderation.NewBanList(e.store,
			moderation.WithPublisher(e.events),
			moderation.WithBurstStopper(e.limiter),
			moderation.WithLogger(e.logger))
	}
	if e.pacer == nil {
		e.pacer = NewPacer(e.messenger, WithJitter(e.jitter), WithPacerLogger(e.logger))
	}
	if e.settings.VIPPassword == "" {
		e.settings.VIPPassword = DefaultVIPPassword
	}
	if e.settings.HistoryLimit <= 0 {
		e.settings.HistoryLimit = defaultHistoryLimit
	}
	pause := e.settings.BroadcastPause
	e.broadcaster = moderation.NewBroadcaster(e.store, moderation.DelivererFunc(e.deliverBroadcast),
		moderation.WithPause(func() time.Duration { return e.jitter(pause[0], pause[1]) }),
		moderation.WithBroadcastLogger(e.logger))

	e.ctx, e.cancel = context.WithCancel(context.Background())
	panics := queue.NewMetricsPanicHandler(queue.NewLogPanicHandler(e.logger),
		func(string, any) { e.panics.Add(1) })
	e.gate = queue.NewDispatcher(e.ctx, queue.WithLogger(e.logger), queue.WithPanicHandler(panics))
	e.dispatcher = queue.NewDispatcher(e.ctx, queue.WithLogger(e.logger), queue.WithPanicHandler(panics))
	return e, nil
}

// Run feeds bridge events into the engine until ctx is done or the stream
// ends. It returns ErrDisconnected when the stream closes and
// ErrNoPairingPhone when pairing cannot proceed.
func (e *Engine) Run(ctx context.Context, evs <-chan whatsapp.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-evs:
			if !ok {
				return ErrDisconnected
			}
			switch ev.Kind {
			case whatsapp.EventMessages:
				for _, m := range ev.Messages {
					e.HandleMessage(ctx, m)
				}
			case whatsapp.EventCalls:
				for i := range ev.Calls {
					e.HandleCall(ctx, &ev.Calls[i])
				}
			case whatsapp.EventConnection:
				if err := e.HandleConnection(ctx, ev.Connection); err != nil {
					return err
				}
			}
		}
	}
}

// Shutdown stops accepting work, cancels in-flight tasks and waits for the
// conversation drains and background sends.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	err := errors.Join(e.gate.Shutdown(ctx), e.dispatcher.Shutdown(ctx))

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Stats reports queue and session gauges. Gate gauges carry an "admitting_"
// prefix.
func (e *Engine) Stats() map[string]int {
	stats := e.dispatcher.Stats()
	gate := e.gate.Stats()
	stats["admitting_conversations"] = gate["conversations"]
	stats["admitting_pending"] = gate["pending"]
	for k, v := range e.sessions.Stats() {
		stats["sessions_"+k] = v
	}
	stats["bans"] = e.bans.Len()
	stats["vips"] = e.vips.Len()
	stats["panics"] = int(e.panics.Load())
	return stats
}

// request is one inbound text message with everything resolved about it.
type request struct {
	received time.Time
	msg      *whatsapp.Message
	chat     string
	convKey  string
	user     string
	name     string
	text     string
	admin    bool
}

// HandleMessage filters an inbound message and hands it to its
// conversation's gate. It never blocks on the network: identifier, ban and
// store lookups run on the gate, so a slow lookup holds up only that
// conversation.
func (e *Engine) HandleMessage(_ context.Context, msg *whatsapp.Message) {
	if msg == nil || msg.Content == nil || msg.Key.FromMe {
		return
	}
	text, ok := msg.Text()
	if !ok {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	req := &request{
		received: time.Now(),
		msg:      msg,
		chat:     msg.Key.RemoteJID,
		convKey:  identity.ConversationKey(msg.Key.RemoteJID, msg.Key.Participant),
		name:     strings.TrimSpace(msg.PushName),
		text:     text,
	}
	if req.name == "" {
		req.name = defaultUserName
	}
	err := e.gate.Enqueue(req.convKey, func(ctx context.Context) error {
		e.admit(ctx, req)
		return nil
	})
	if err != nil && !errors.Is(err, queue.ErrStopped) {
		e.logger.Error("failed to enqueue message", slog.String("conversation", req.convKey), slog.Any("error", err))
	}
}

// admit resolves the sender, applies bans and rate limits and queues the
// message for handling. It runs on the conversation's gate, which never
// waits for the conversation's handler, so throttling still answers while
// a download is in flight.
func (e *Engine) admit(ctx context.Context, req *request) {
	if ctx.Err() != nil {
		return
	}
	msg := req.msg
	req.user = e.resolver.Resolve(ctx, identity.Sender{
		Chat:           msg.Key.RemoteJID,
		Participant:    msg.Key.Participant,
		ChatAlt:        msg.Key.RemoteJIDAlt,
		ParticipantAlt: msg.Key.ParticipantAlt,
	})
	req.admin = e.developers.Contains(req.user)
	logger := e.logger.With(slog.String("user", req.user), slog.String("conversation", req.convKey))
	logger.Debug("message received", slog.Int("text_length", len(req.text)), slog.Bool("developer", req.admin))

	if !req.admin && e.bans.IsBanned(ctx, req.user) {
		logger.Debug("dropping message from banned user")
		return
	}

	if sess, ok := e.sessions.Peek(req.convKey); ok && sess.IsDownloading() && !req.admin {
		if e.limiter.CheckBurst(req.user) == ratelimit.Block {
			e.limiter.StopBurst(req.user)
			e.bans.Ban(ctx, req.user, moderation.ReasonBurst)
			logger.Warn("banned for download burst")
			e.replyAsync(req, replyBurstBan, nil)
			return
		}
		e.replyAsync(req, replyWait, nil)
		return
	}

	if !req.admin && e.limiter.CheckHourly(req.user) == ratelimit.Block {
		e.bans.Ban(ctx, req.user, moderation.ReasonHourly)
		logger.Warn("banned for hourly message limit")
		e.replyAsync(req, replyHourlyBan, nil)
		return
	}

	if identity.ValidPhone(req.user) {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := e.store.TouchUser(sctx, req.user, req.name)
		cancel()
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			logger.Warn("failed to record user activity", slog.Any("error", err))
		}
	}

	task := func(ctx context.Context) error {
		if err := retry.Sleep(ctx, e.jitter(e.settings.DispatchDelay[0], e.settings.DispatchDelay[1])); err != nil {
			return err
		}
		if err := e.handle(ctx, req); err != nil {
			if ctx.Err() == nil {
				if replyErr := e.reply(ctx, req, replyGenericError, nil); replyErr != nil {
					err = errors.Join(err, replyErr)
				}
			}
			return fmt.Errorf("handle message: %w", err)
		}
		return nil
	}
	err := e.dispatcher.Enqueue(req.convKey, queue.Guard(task, func(ctx context.Context, _ any) {
		if ctx.Err() != nil {
			return
		}
		if err := e.reply(ctx, req, replyGenericError, nil); err != nil {
			logger.Warn("failed to report failure", slog.Any("error", err))
		}
	}))
	if err != nil && !errors.Is(err, queue.ErrStopped) {
		logger.Error("failed to enqueue message", slog.Any("error", err))
	}
}

// handle runs the conversation state machine. It is only called from the
// conversation's drain goroutine.
func (e *Engine) handle(ctx context.Context, req *request) error {
	sess, created := e.sessions.GetOrCreate(req.convKey)
	sess.Hold()
	defer sess.Release()
	folded := cases.Fold().String(req.text)

	if req.text == e.settings.VIPPassword {
		e.vips.Grant(req.user)
		e.limiter.StopBurst(req.user)
		e.logger.Info("vip granted", slog.String("user", req.user))
		return e.reply(ctx, req, replyVIP, nil)
	}

	if folded == "zarchiver" || folded == "زارشيفر" {
		sess.SetResults([]catalog.Entry{zarchiver})
		if err := e.reply(ctx, req, replyZArchiver, nil); err != nil {
			return err
		}
		return e.downloadApp(ctx, req, sess, zarchiver)
	}

	if created && sess.FirstTime {
		sess.FirstTime = false
		if err := e.reply(ctx, req, replyWelcome, map[string]any{"Name": req.name}); err != nil {
			return err
		}
	}

	if req.admin {
		if handled, err := e.adminCommand(ctx, req); handled {
			return err
		}
	}
	if handled, err := e.publicCommand(ctx, req, folded); handled {
		return err
	}

	switch sess.State {
	case conversation.StateWaitingForSelection:
		if entry, ok := sess.Selection(req.text); ok {
			return e.downloadApp(ctx, req, sess, entry)
		}
		e.deleteList(ctx, req, sess)
		sess.ClearResults()
		return e.search(ctx, req, sess, true)
	default:
		return e.search(ctx, req, sess, false)
	}
}

// search looks text up and sends the numbered result list.
func (e *Engine) search(ctx context.Context, req *request, sess *conversation.Session, retrying bool) error {
	e.react(ctx, req, "🔍")
	sess.State = conversation.StateWaitingForSearch

	results, err := catalog.Find(ctx, e.catalog, req.text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("search failed", slog.String("query", req.text), slog.Any("error", err))
		return e.reply(ctx, req, replySearchFailed, nil)
	}
	if len(results) == 0 {
		name := replyNoResults
		if retrying {
			name = replyNoResultsRetry
		}
		return e.reply(ctx, req, name, map[string]any{"Query": req.text})
	}

	sess.SetResults(results)
	sent, err := e.replyWithImage(ctx, req, replyResults, map[string]any{"Results": results})
	if err != nil {
		return err
	}
	if sent != nil {
		sess.LastListMessage = sent.Key.ID
	}
	return nil
}

// publicCommand answers the commands anyone may use.
func (e *Engine) publicCommand(ctx context.Context, req *request, folded string) (bool, error) {
	switch folded {
	case "/help", "help", "مساعدة":
		_, err := e.replyWithImage(ctx, req, replyHelp, nil)
		return true, err
	case "/commands", "الاوامر", "اوامر":
		_, err := e.replyWithImage(ctx, req, replyCommands, nil)
		return true, err
	case "/ping", "بينج":
		return true, e.reply(ctx, req, replyPing, map[string]any{"Millis": time.Since(req.received).Milliseconds()})
	case "/info", "معلومات":
		return true, e.reply(ctx, req, replyInfo, nil)
	case "/dev", "المطور", "تواصل":
		return true, e.reply(ctx, req, replyDev, nil)
	case "/history", "سجلي", "history":
		return true, e.history(ctx, req)
	}
	return false, nil
}

func (e *Engine) history(ctx context.Context, req *request) error {
	items, err := e.store.History(ctx, req.user, e.settings.HistoryLimit)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		e.logger.Warn("failed to load history", slog.String("user", req.user), slog.Any("error", err))
	}
	if len(items) == 0 {
		return e.reply(ctx, req, replyHistoryEmpty, nil)
	}
	return e.reply(ctx, req, replyHistory, map[string]any{"Items": items})
}

// reply renders name and sends it to the request's chat, quoting the
// triggering message.
func (e *Engine) reply(ctx context.Context, req *request, name string, data any) error {
	text, err := e.replies.Render(name, data)
	if err != nil {
		return err
	}
	_, err = e.pacer.Send(ctx, req.chat, whatsapp.TextContent(text), req.msg)
	return err
}

// replyWithImage sends the reply as the profile image's caption when the
// image is available.
func (e *Engine) replyWithImage(ctx context.Context, req *request, name string, data any) (*whatsapp.SentMessage, error) {
	text, err := e.replies.Render(name, data)
	if err != nil {
		return nil, err
	}
	content := whatsapp.TextContent(text)
	if path, ok := e.profile.Path(ctx); ok {
		content = whatsapp.ImageContent(path, text)
	}
	return e.pacer.Send(ctx, req.chat, content, req.msg)
}

// replyAsync sends a reply off the event loop.
func (e *Engine) replyAsync(req *request, name string, data any) {
	e.spawn(func(ctx context.Context) {
		if err := e.reply(ctx, req, name, data); err != nil && ctx.Err() == nil {
			e.logger.Warn("failed to send reply", slog.String("reply", name), slog.Any("error", err))
		}
	})
}

// react is best-effort.
func (e *Engine) react(ctx context.Context, req *request, emoji string) {
	if err := e.messenger.React(ctx, req.chat, req.msg.Key, emoji); err != nil {
		e.logger.Debug("reaction failed", slog.String("emoji", emoji), slog.Any("error", err))
	}
}

// deleteList removes the last result list, best-effort.
func (e *Engine) deleteList(ctx context.Context, req *request, sess *conversation.Session) {
	if sess.LastListMessage == "" {
		return
	}
	key := whatsapp.MessageKey{RemoteJID: req.chat, ID: sess.LastListMessage, FromMe: true}
	if err := e.messenger.Delete(ctx, req.chat, key); err != nil {
		e.logger.Debug("failed to delete result list", slog.Any("error", err))
	}
	sess.LastListMessage = ""
}

// spawn runs fn on a tracked goroutine bound to the engine's lifetime.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}
