package whatsapp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// UnixSocketTransport implements Transport over newline-delimited JSON on a
// UNIX socket.
type UnixSocketTransport struct {
	conn net.Conn
	*endpoint
}

// NewUnixSocketTransport connects to the bridge socket.
func NewUnixSocketTransport(ctx context.Context, socketPath string) (*UnixSocketTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge socket: %w", err)
	}

	t := &UnixSocketTransport{conn: conn}
	t.endpoint = newEndpoint(func(data []byte) error {
		_, err := fmt.Fprintf(conn, "%s\n", data)
		return err
	}, slog.Default().With(slog.String("component", "whatsapp.unix")))

	go t.readLoop()
	return t, nil
}

func (t *UnixSocketTransport) readLoop() {
	defer t.finish()

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-t.stopCh:
			return
		default:
		}
		t.dispatch(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("socket read ended", slog.Any("error", err))
	}
}

// Call implements Transport.Call.
func (t *UnixSocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return t.call(ctx, method, params)
}

// Subscribe implements Transport.Subscribe.
func (t *UnixSocketTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	return t.notifications, nil
}

// Handle implements Transport.Handle.
func (t *UnixSocketTransport) Handle(h RequestHandler) {
	t.setHandler(h)
}

// Close implements Transport.Close.
func (t *UnixSocketTransport) Close() error {
	t.stop()
	err := t.conn.Close()
	<-t.done
	if err != nil && !isClosedConn(err) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func isClosedConn(err error) bool {
	return err != nil && errors.Is(err, net.ErrClosed)
}
