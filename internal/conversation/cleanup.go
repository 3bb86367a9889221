package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCleanupInterval is the default interval at which expired sessions are cleaned up.
	DefaultCleanupInterval = 1 * time.Minute
)

// Sweeper is anything holding state that expires.
type Sweeper interface {
	CleanupExpired() int
}

// SweepFunc adapts a function to Sweeper.
type SweepFunc func() int

// CleanupExpired calls f.
func (f SweepFunc) CleanupExpired() int { return f() }

// CleanupService runs a Sweeper periodically.
type CleanupService struct {
	target   Sweeper
	name     string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewCleanupService creates a new cleanup service with default interval.
func NewCleanupService(target Sweeper) *CleanupService {
	return NewCleanupServiceWithInterval(target, DefaultCleanupInterval)
}

// NewCleanupServiceWithInterval creates a new cleanup service with custom interval.
func NewCleanupServiceWithInterval(target Sweeper, interval time.Duration) *CleanupService {
	return &CleanupService{
		target:   target,
		name:     "sessions",
		interval: interval,
	}
}

// Named sets the label used in logs and returns c.
func (c *CleanupService) Named(name string) *CleanupService {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	return c
}

// Start begins the periodic cleanup process.
func (c *CleanupService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.runCleanup(cleanupCtx, c.done)

	return nil
}

// Stop gracefully stops the cleanup service.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}

	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *CleanupService) runCleanup(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		close(done)
		c.mu.Unlock()
	}()

	c.mu.Lock()
	name := c.name
	c.mu.Unlock()

	logger := slog.Default().With(
		slog.String("component", "conversation.cleanup"),
		slog.String("target", name),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.performCleanup(ctx, logger)

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "Cleanup service stopping")
			return

		case <-ticker.C:
			c.performCleanup(ctx, logger)
		}
	}
}

func (c *CleanupService) performCleanup(ctx context.Context, logger *slog.Logger) {
	startTime := time.Now()
	removed := c.target.CleanupExpired()
	duration := time.Since(startTime)

	if removed > 0 {
		logger.InfoContext(ctx, "Cleaned up expired entries",
			slog.Int("removed", removed),
			slog.Duration("duration", duration),
		)
	}

	if s, ok := c.target.(interface{ Stats() map[string]int }); ok {
		stats := s.Stats()
		logger.DebugContext(ctx, "Stats after cleanup", slog.Any("stats", stats))
	}
}

// IsRunning returns whether the cleanup service is currently running.
func (c *CleanupService) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
