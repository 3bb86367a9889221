package queue

import (
	"context"
	"log/slog"
	"runtime/debug"
)

// PanicHandler decides what happens to a conversation after one of its
// tasks panics. It returns true to keep draining the conversation and false
// to drop its pending tasks.
type PanicHandler interface {
	HandlePanic(key string, panicValue any, stackTrace []byte) bool
}

// PanicHandlerFunc adapts a function to PanicHandler.
type PanicHandlerFunc func(key string, panicValue any, stackTrace []byte) bool

// HandlePanic calls f.
func (f PanicHandlerFunc) HandlePanic(key string, panicValue any, stackTrace []byte) bool {
	return f(key, panicValue, stackTrace)
}

// LogPanicHandler logs panics with their stack and keeps draining: a panic
// in one message should not cost the user their later ones.
type LogPanicHandler struct {
	logger *slog.Logger
}

// NewLogPanicHandler returns a handler logging to logger, or to the default
// logger when nil.
func NewLogPanicHandler(logger *slog.Logger) *LogPanicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPanicHandler{logger: logger}
}

// HandlePanic logs the panic and returns true.
func (h *LogPanicHandler) HandlePanic(key string, panicValue any, stackTrace []byte) bool {
	h.logger.Error("conversation task panicked",
		slog.String("conversation", key),
		slog.Any("panic", panicValue),
		slog.String("stack_trace", string(stackTrace)))
	return true
}

// MetricsPanicHandler counts panics before delegating to another handler.
type MetricsPanicHandler struct {
	wrapped PanicHandler
	onPanic func(key string, panicValue any)
}

// NewMetricsPanicHandler wraps another handler to add metrics tracking.
func NewMetricsPanicHandler(wrapped PanicHandler, onPanic func(string, any)) *MetricsPanicHandler {
	return &MetricsPanicHandler{
		wrapped: wrapped,
		onPanic: onPanic,
	}
}

// HandlePanic calls the metrics callback and delegates to the wrapped handler.
func (h *MetricsPanicHandler) HandlePanic(key string, panicValue any, stackTrace []byte) bool {
	if h.onPanic != nil {
		h.onPanic(key, panicValue)
	}
	if h.wrapped != nil {
		return h.wrapped.HandlePanic(key, panicValue, stackTrace)
	}
	return true
}

// HandleRecoveredPanic passes a recovered panic to handler and reports
// whether the conversation should keep draining.
func HandleRecoveredPanic(key string, panicValue any, handler PanicHandler) bool {
	if handler == nil {
		handler = NewLogPanicHandler(nil)
	}
	return handler.HandlePanic(key, panicValue, debug.Stack())
}

// Guard wraps task so that its owner hears about a panic while the task's
// context is still live, typically to answer the user. The panic is then
// raised again for the dispatcher's PanicHandler.
func Guard(task Task, onPanic func(ctx context.Context, panicValue any)) Task {
	return func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				onPanic(ctx, r)
				panic(r)
			}
		}()
		return task(ctx)
	}
}
