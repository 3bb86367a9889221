// Package queue serializes work per conversation. Each conversation key gets
// its own FIFO queue and at most one drain goroutine, so a conversation's
// tasks never overlap while different conversations run in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher owns the per-conversation queues.
type Dispatcher struct {
	ctx          context.Context
	queues       map[string]*ConversationQueue
	panicHandler PanicHandler
	logger       *slog.Logger
	wg           sync.WaitGroup
	processed    atomic.Int64
	failed       atomic.Int64
	panicked     atomic.Int64
	mu           sync.Mutex
	stopped      bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithPanicHandler sets the handler for panicking tasks.
func WithPanicHandler(handler PanicHandler) Option {
	return func(d *Dispatcher) {
		d.panicHandler = handler
	}
}

// NewDispatcher creates a dispatcher. Tasks receive ctx, so canceling it
// asks in-flight work to stop.
func NewDispatcher(ctx context.Context, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ctx:          ctx,
		queues:       make(map[string]*ConversationQueue),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "queue.dispatcher"))
	if d.panicHandler == nil {
		d.panicHandler = NewLogPanicHandler(d.logger)
	}
	return d
}

// Enqueue appends task to the queue for key and starts a drain loop if none
// is running for that key.
func (d *Dispatcher) Enqueue(key string, task Task) error {
	if task == nil {
		return fmt.Errorf("cannot enqueue nil task")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}

	q, ok := d.queues[key]
	if !ok {
		q = NewConversationQueue(key)
		d.queues[key] = q
	}

	if q.Push(task) {
		d.wg.Add(1)
		go d.drain(key, q)
	}
	return nil
}

// drain runs the tasks of one conversation in arrival order until its queue is empty.
func (d *Dispatcher) drain(key string, q *ConversationQueue) {
	defer d.wg.Done()

	for {
		task, ok := q.Pop()
		if !ok {
			break
		}
		if !d.run(key, task) {
			if dropped := q.Discard(); dropped > 0 {
				d.logger.Warn("dropped pending tasks after panic",
					slog.String("conversation", key),
					slog.Int("dropped", dropped))
			}
		}
	}

	d.mu.Lock()
	if current, ok := d.queues[key]; ok && current == q && q.IsIdle() {
		delete(d.queues, key)
	}
	d.mu.Unlock()
}

// run executes a single task. It returns false when the panic handler asks
// to stop draining.
func (d *Dispatcher) run(key string, task Task) (keepGoing bool) {
	keepGoing = true
	defer func() {
		if r := recover(); r != nil {
			d.processed.Add(1)
			d.panicked.Add(1)
			d.failed.Add(1)
			keepGoing = HandleRecoveredPanic(key, r, d.panicHandler)
		}
	}()

	err := task(d.ctx)
	d.processed.Add(1)
	if err != nil {
		d.failed.Add(1)
		if errors.Is(err, context.Canceled) {
			d.logger.Debug("task canceled", slog.String("conversation", key))
			return true
		}
		d.logger.Error("task failed",
			slog.String("conversation", key),
			slog.Any("error", err))
	}
	return true
}

// Pending returns the number of tasks waiting for key, excluding the one running.
func (d *Dispatcher) Pending(key string) int {
	d.mu.Lock()
	q, ok := d.queues[key]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Size()
}

// Shutdown stops accepting tasks and waits for queued work to finish or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	conversations := len(d.queues)
	pending, draining := 0, 0
	for _, q := range d.queues {
		pending += q.Size()
		if q.IsDraining() {
			draining++
		}
	}
	d.mu.Unlock()

	return map[string]int{
		"conversations": conversations,
		"draining":      draining,
		"pending":       pending,
		"processed":     int(d.processed.Load()),
		"failed":        int(d.failed.Load()),
		"panicked":      int(d.panicked.Load()),
	}
}
