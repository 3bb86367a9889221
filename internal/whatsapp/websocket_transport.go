package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseGrace = time.Second

// WebSocketTransport implements Transport with one JSON-RPC message per
// websocket text frame.
type WebSocketTransport struct {
	conn *websocket.Conn
	*endpoint
}

// NewWebSocketTransport dials the bridge at url (ws:// or wss://).
func NewWebSocketTransport(ctx context.Context, url string, header http.Header) (*WebSocketTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge websocket: %w", err)
	}

	t := &WebSocketTransport{conn: conn}
	t.endpoint = newEndpoint(func(data []byte) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	}, slog.Default().With(slog.String("component", "whatsapp.websocket")))

	go t.readLoop()
	return t, nil
}

func (t *WebSocketTransport) readLoop() {
	defer t.finish()

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stopCh:
			default:
				t.logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		t.dispatch(data)
	}
}

// Call implements Transport.Call.
func (t *WebSocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return t.call(ctx, method, params)
}

// Subscribe implements Transport.Subscribe.
func (t *WebSocketTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	return t.notifications, nil
}

// Handle implements Transport.Handle.
func (t *WebSocketTransport) Handle(h RequestHandler) {
	t.setHandler(h)
}

// Close implements Transport.Close.
func (t *WebSocketTransport) Close() error {
	t.stop()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseGrace))
	t.writeMu.Unlock()

	err := t.conn.Close()
	<-t.done
	if err != nil && !isClosedConn(err) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Dial connects to the bridge. Addresses starting with ws:// or wss:// use a
// websocket; anything else is a UNIX socket path, optionally prefixed with
// unix://.
func Dial(ctx context.Context, addr string) (Transport, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		t, err := NewWebSocketTransport(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := NewUnixSocketTransport(ctx, strings.TrimPrefix(addr, "unix://"))
	if err != nil {
		return nil, err
	}
	return t, nil
}
