package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/appbot/internal/bot"
	"github.com/Veraticus/appbot/internal/cache"
	"github.com/Veraticus/appbot/internal/catalog"
	"github.com/Veraticus/appbot/internal/config"
	"github.com/Veraticus/appbot/internal/conversation"
	"github.com/Veraticus/appbot/internal/download"
	"github.com/Veraticus/appbot/internal/events"
	"github.com/Veraticus/appbot/internal/identity"
	"github.com/Veraticus/appbot/internal/logutil"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/ratelimit"
	"github.com/Veraticus/appbot/internal/retry"
	"github.com/Veraticus/appbot/internal/store"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// components holds everything run wires together.
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	dial      dialFunc
	store     store.Store
	publisher events.Publisher
	mirror    *identity.ValkeyMirror
	messages  *cache.MessageLog
	groups    *cache.GroupCache[whatsapp.GroupMetadata]
	messenger *liveMessenger
	engine    *bot.Engine
	janitors  []*conversation.CleanupService
}

func (a *app) run(ctx context.Context, cfg *config.Config) error {
	logger, err := logutil.New(os.Stderr, logutil.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	log.Printf("AppOmar bot %s starting...", bot.Version)

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c.dial = a.dial
	defer c.close()

	g, gctx := errgroup.WithContext(ctx)
	c.startJanitors(gctx)
	g.Go(func() error { return c.serve(gctx) })

	log.Println("AppOmar bot started. Waiting for the bridge.")
	runErr := g.Wait()

	// The parent context is already done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer cancel()
	//nolint:contextcheck // New context needed for graceful shutdown after parent cancellation
	c.shutdown(shutdownCtx)
	return runErr
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{cfg: cfg, logger: logger, messenger: &liveMessenger{}}
	ok := false
	defer func() {
		if !ok {
			c.close()
		}
	}()

	// 1. Persistence and event bus
	driver := cfg.StoreDriver()
	st, err := store.Open(ctx, driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	c.store = st
	if st.Enabled() {
		log.Printf("Using %s store", driver)
	} else {
		log.Println("No store configured, stats and broadcast are disabled")
	}

	c.publisher = events.Noop{}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL,
			events.WithSubjectPrefix(cfg.Events.SubjectPrefix),
			events.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.publisher = pub
	}

	// 2. Identity
	resolverOpts := []identity.Option{identity.WithLogger(logger)}
	if cfg.Valkey.Address != "" {
		mirror, err := identity.NewValkeyMirror(cfg.Valkey.Address, cfg.Valkey.Password, cfg.Valkey.TTL)
		if err != nil {
			return nil, err
		}
		c.mirror = mirror
		resolverOpts = append(resolverOpts, identity.WithMirror(mirror))
	}
	resolver := identity.NewResolver(resolverOpts...)

	// 3. Download pipeline
	spool, err := download.NewSpool(cfg.Download.SpoolDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool: %w", err)
	}
	fallback := download.NewScriptFallback(cfg.Download.FallbackScript, cfg.Download.FallbackDir)
	fallback.Logger = logger
	pipeline := download.NewPipeline(cfg.Download.APIURL, spool,
		download.WithFallback(fallback),
		download.WithLogger(logger))
	stickers := download.NewStickers(spool, nil)
	apps := catalog.NewHTTPClient(cfg.Catalog.URL, &http.Client{Timeout: cfg.Catalog.Timeout})

	// 4. Caches shared with the bridge client
	c.messages = cache.NewMessageLog()
	c.groups = cache.NewGroupCache[whatsapp.GroupMetadata]()

	// 5. Moderation
	developers := moderation.NewDevelopers(cfg.Bot.Developers...)
	log.Printf("Developer numbers: %s", strings.Join(developers.Phones(), ", "))
	vips := moderation.NewVIPSet()
	limiter := ratelimit.New(moderation.Privileges{Developers: developers, VIPs: vips},
		ratelimit.WithHourlyLimit(cfg.Limits.Hourly),
		ratelimit.WithBurstLimit(cfg.Limits.Burst))
	sessions := conversation.NewStore(conversation.WithLogger(logger))

	// 6. Replies and presentation
	vars := bot.Vars{Instagram: cfg.Bot.Instagram, Version: bot.Version}
	var replies *bot.Replies
	if cfg.Bot.RepliesPath != "" {
		replies, err = bot.LoadReplies(cfg.Bot.RepliesPath, vars)
	} else {
		replies, err = bot.DefaultReplies(vars)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid replies: %w", err)
	}
	profile := bot.NewProfileImage(cfg.Assets.ProfilePath, cfg.Assets.ProfileURL, nil, logger)
	pacer := bot.NewPacer(c.messenger,
		bot.WithPacing(cfg.Pacing.Enabled),
		bot.WithPacerLogger(logger))

	// 7. Engine
	settings := bot.DefaultSettings()
	settings.VIPPassword = cfg.Bot.VIPPassword
	settings.PairingPhone = cfg.Pairing.Phone
	settings.HistoryLimit = cfg.Bot.HistoryLimit
	settings.Reconnect = [2]time.Duration{cfg.Reconnect.Min, cfg.Reconnect.Max}

	c.engine, err = bot.New(bot.Deps{
		Messenger:  c.messenger,
		Catalog:    apps,
		Downloader: pipeline,
		Stickers:   stickers,
		Store:      st,
		Events:     c.publisher,
		Resolver:   resolver,
		Sessions:   sessions,
		Limiter:    limiter,
		Developers: developers,
		VIPs:       vips,
		Replies:    replies,
		Pacer:      pacer,
		Profile:    profile,
		Logger:     logger,
		Settings:   settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	// 8. Janitors
	maxAge := cfg.Cleanup.MaxAge
	every := cfg.Cleanup.Interval
	c.janitors = []*conversation.CleanupService{
		conversation.NewCleanupServiceWithInterval(sessions, every).Named("sessions"),
		conversation.NewCleanupServiceWithInterval(c.groups, every).Named("groups"),
		conversation.NewCleanupServiceWithInterval(conversation.SweepFunc(resolver.Sweep), every).Named("identifiers"),
		conversation.NewCleanupServiceWithInterval(conversation.SweepFunc(func() int {
			return limiter.CleanupStale(max(maxAge, ratelimit.DefaultWindow))
		}), every).Named("rate-limits"),
		conversation.NewCleanupServiceWithInterval(conversation.SweepFunc(func() int {
			return spool.Sweep(maxAge)
		}), every).Named("spool"),
	}

	ok = true
	return c, nil
}

func (c *components) startJanitors(ctx context.Context) {
	for _, j := range c.janitors {
		if err := j.Start(ctx); err != nil {
			c.logger.Warn("failed to start cleanup", slog.Any("error", err))
		}
	}
}

// serve keeps one bridge connection alive at a time and feeds it to the
// engine. Losing the bridge redials after a random delay; only a missing
// pairing number ends the loop early.
func (c *components) serve(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, bot.ErrNoPairingPhone) {
			return fmt.Errorf("bridge needs pairing: %w", err)
		}
		delay := bot.Jitter(c.cfg.Reconnect.Min, c.cfg.Reconnect.Max)
		c.logger.Warn("bridge connection lost",
			slog.Any("error", err),
			slog.Duration("retry_in", delay))
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// session runs the engine on one bridge connection until it ends.
func (c *components) session(ctx context.Context) error {
	transport, err := c.dial(ctx, c.cfg.Bridge.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to bridge: %w", err)
	}
	client := whatsapp.NewClient(transport,
		whatsapp.WithMessageLog(c.messages),
		whatsapp.WithGroupCache(c.groups),
		whatsapp.WithLogger(c.logger))
	defer func() {
		c.messenger.set(nil)
		_ = client.Close()
	}()

	evs, err := client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.messenger.set(client)
	c.logger.Info("bridge connected", slog.String("address", c.cfg.Bridge.Address))
	return c.engine.Run(ctx, evs)
}

func (c *components) shutdown(ctx context.Context) {
	log.Println("Shutting down components...")
	for _, j := range c.janitors {
		j.Stop()
	}
	if c.engine != nil {
		stats := c.engine.Stats()
		if err := c.engine.Shutdown(ctx); err != nil {
			log.Println("Shutdown timeout exceeded")
		}
		log.Printf("Processed %s tasks, %s outbound messages cached",
			humanize.Comma(int64(stats["processed"])), humanize.Comma(int64(c.messages.Len())))
	}
	log.Println("Shutdown complete")
}

// close releases external connections. It is safe on a partly built value.
func (c *components) close() {
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Warn("failed to close event publisher", slog.Any("error", err))
		}
	}
	if c.mirror != nil {
		c.mirror.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("failed to close store", slog.Any("error", err))
		}
	}
}
