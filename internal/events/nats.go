package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON events to NATS.
type NATSPublisher struct {
	conn      *nats.Conn
	logger    *slog.Logger
	prefix    string
	closeOnce sync.Once
	closeErr  error
}

// NATSOption configures a NATSPublisher.
type NATSOption func(*NATSPublisher)

// WithSubjectPrefix prepends prefix and a dot to every subject.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(p *NATSPublisher) { p.prefix = prefix }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) NATSOption {
	return func(p *NATSPublisher) { p.logger = logger }
}

// NewNATSPublisher connects to url. The connection reconnects forever in the
// background; publishes during an outage are buffered by the client.
func NewNATSPublisher(url string, opts ...NATSOption) (*NATSPublisher, error) {
	p := &NATSPublisher{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "events.nats"))

	conn, err := nats.Connect(url,
		nats.Name("appbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p.conn = conn
	return p, nil
}

func (p *NATSPublisher) PublishDownload(ctx context.Context, ev Download) error {
	return p.publish(ctx, SubjectDownloads, ev)
}

func (p *NATSPublisher) PublishBan(ctx context.Context, ev Ban) error {
	return p.publish(ctx, SubjectBans, ev)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if p.prefix != "" {
		subject = p.prefix + "." + subject
	}
	if err := p.conn.Publish(subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	p.closeOnce.Do(func() {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
			p.closeErr = fmt.Errorf("drain nats: %w", err)
		}
	})
	return p.closeErr
}
