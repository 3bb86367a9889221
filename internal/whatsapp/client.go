// Package whatsapp talks to the WhatsApp bridge sidecar over JSON-RPC 2.0.
// The bridge owns the platform connection; this package sends messages,
// receives message, call and connection notifications, and answers the
// bridge's lookups from the bot's caches.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/appbot/internal/cache"
)

// Bridge methods.
const (
	methodSend                 = "send"
	methodDelete               = "delete"
	methodReact                = "react"
	methodPresence             = "presence"
	methodPresenceSubscribe    = "presenceSubscribe"
	methodRejectCall           = "rejectCall"
	methodUpdateProfilePicture = "updateProfilePicture"
	methodGroupMetadata        = "groupMetadata"
	methodRequestPairingCode   = "requestPairingCode"
	methodConnect              = "connect"

	notifyMessage    = "message"
	notifyCall       = "call"
	notifyConnection = "connection"

	requestGetMessage          = "getMessage"
	requestCachedGroupMetadata = "cachedGroupMetadata"
)

// emptyMessage answers lookups for messages the log no longer holds.
var emptyMessage = json.RawMessage(`{"conversation":""}`)

// Messenger is the outbound surface the bot uses.
type Messenger interface {
	Send(ctx context.Context, jid string, content Content, quoted *Message) (*SentMessage, error)
	Delete(ctx context.Context, jid string, key MessageKey) error
	React(ctx context.Context, jid string, key MessageKey, emoji string) error
	SendPresence(ctx context.Context, jid, state string) error
	SubscribePresence(ctx context.Context, jid string) error
	RejectCall(ctx context.Context, callID, from string) error
	UpdateProfilePicture(ctx context.Context, jid, path string) error
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Connect(ctx context.Context) error
}

var _ Messenger = (*Client)(nil)

// Client is the bridge client.
type Client struct {
	transport Transport
	messages  *cache.MessageLog
	groups    *cache.GroupCache[GroupMetadata]
	logger    *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithMessageLog records sent and received messages so the bridge can ask
// for them again.
func WithMessageLog(log *cache.MessageLog) ClientOption {
	return func(c *Client) { c.messages = log }
}

// WithGroupCache caches group metadata and answers the bridge's lookups from it.
func WithGroupCache(groups *cache.GroupCache[GroupMetadata]) ClientOption {
	return func(c *Client) { c.groups = groups }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client and registers it as the transport's request handler.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		messages:  cache.NewMessageLog(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "whatsapp.client"))
	transport.Handle(c.handleRequest)
	return c
}

// Send sends content to jid, quoting quoted when it is not nil.
func (c *Client) Send(ctx context.Context, jid string, content Content, quoted *Message) (*SentMessage, error) {
	params := map[string]any{
		"jid":     jid,
		"content": content,
	}
	if quoted != nil && len(quoted.Raw()) > 0 {
		params["quoted"] = quoted.Raw()
	}

	result, err := c.transport.Call(ctx, methodSend, params)
	if err != nil {
		return nil, fmt.Errorf("send %s failed: %w", content.Kind(), err)
	}

	var sent SentMessage
	if err := json.Unmarshal(result, &sent); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if sent.Key.ID == "" {
		return nil, errors.New("invalid response: missing message key")
	}
	if len(sent.Message) > 0 {
		c.messages.Store(cache.MessageKey{Chat: sent.Key.RemoteJID, ID: sent.Key.ID}, sent.Message)
	}
	return &sent, nil
}

// Delete deletes a message for everyone.
func (c *Client) Delete(ctx context.Context, jid string, key MessageKey) error {
	_, err := c.transport.Call(ctx, methodDelete, map[string]any{"jid": jid, "key": key})
	return err
}

// React reacts to a message with emoji.
func (c *Client) React(ctx context.Context, jid string, key MessageKey, emoji string) error {
	_, err := c.transport.Call(ctx, methodReact, map[string]any{"jid": jid, "key": key, "text": emoji})
	return err
}

// SendPresence sends a presence update. An empty jid updates the account's
// global presence.
func (c *Client) SendPresence(ctx context.Context, jid, state string) error {
	params := map[string]any{"state": state}
	if jid != "" {
		params["jid"] = jid
	}
	_, err := c.transport.Call(ctx, methodPresence, params)
	return err
}

// SubscribePresence subscribes to a chat's presence.
func (c *Client) SubscribePresence(ctx context.Context, jid string) error {
	_, err := c.transport.Call(ctx, methodPresenceSubscribe, map[string]any{"jid": jid})
	return err
}

// RejectCall rejects an incoming call.
func (c *Client) RejectCall(ctx context.Context, callID, from string) error {
	_, err := c.transport.Call(ctx, methodRejectCall, map[string]any{"callId": callID, "from": from})
	return err
}

// UpdateProfilePicture sets jid's profile picture to the image at path.
func (c *Client) UpdateProfilePicture(ctx context.Context, jid, path string) error {
	params := map[string]any{"path": path}
	if jid != "" {
		params["jid"] = jid
	}
	_, err := c.transport.Call(ctx, methodUpdateProfilePicture, params)
	return err
}

// RequestPairingCode asks the bridge for a pairing code for phone.
func (c *Client) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	result, err := c.transport.Call(ctx, methodRequestPairingCode, map[string]any{"phone": phone})
	if err != nil {
		return "", err
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Code == "" {
		return "", errors.New("invalid response: missing pairing code")
	}
	return resp.Code, nil
}

// Connect asks the bridge to open a new platform connection.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.transport.Call(ctx, methodConnect, nil)
	return err
}

// GroupMetadata returns group metadata, from the cache when fresh.
func (c *Client) GroupMetadata(ctx context.Context, jid string) (GroupMetadata, error) {
	if c.groups == nil {
		return c.fetchGroupMetadata(ctx, jid)
	}
	meta, ok := c.groups.Get(ctx, jid, func(ctx context.Context) (GroupMetadata, error) {
		return c.fetchGroupMetadata(ctx, jid)
	})
	if !ok {
		return GroupMetadata{}, fmt.Errorf("group metadata for %s unavailable", jid)
	}
	return meta, nil
}

func (c *Client) fetchGroupMetadata(ctx context.Context, jid string) (GroupMetadata, error) {
	result, err := c.transport.Call(ctx, methodGroupMetadata, map[string]any{"jid": jid})
	if err != nil {
		return GroupMetadata{}, err
	}
	var meta GroupMetadata
	if err := json.Unmarshal(result, &meta); err != nil {
		return GroupMetadata{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return meta, nil
}

// Subscribe starts decoding bridge notifications into events. The channel
// closes when ctx is done or the transport's stream ends.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, error) {
	notifications, err := c.transport.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 10)
	go c.processNotifications(ctx, notifications, events)
	return events, nil
}

func (c *Client) processNotifications(ctx context.Context, notifications <-chan *Notification, events chan<- Event) {
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			ev, ok := c.decode(notif)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) decode(notif *Notification) (Event, bool) {
	switch notif.Method {
	case notifyMessage:
		var params struct {
			Type     string     `json:"type"`
			Messages []*Message `json:"messages"`
		}
		if err := json.Unmarshal(notif.Params, &params); err != nil {
			c.logger.Warn("malformed message notification", slog.Any("error", err))
			return Event{}, false
		}
		for _, m := range params.Messages {
			if m != nil && m.Content != nil {
				c.messages.Store(cache.MessageKey{Chat: m.Key.RemoteJID, ID: m.Key.ID}, m.Body())
			}
		}
		return Event{Kind: EventMessages, Messages: params.Messages}, len(params.Messages) > 0

	case notifyCall:
		var params struct {
			Calls []Call `json:"calls"`
		}
		if err := json.Unmarshal(notif.Params, &params); err != nil {
			c.logger.Warn("malformed call notification", slog.Any("error", err))
			return Event{}, false
		}
		return Event{Kind: EventCalls, Calls: params.Calls}, len(params.Calls) > 0

	case notifyConnection:
		var update ConnectionUpdate
		if err := json.Unmarshal(notif.Params, &update); err != nil {
			c.logger.Warn("malformed connection notification", slog.Any("error", err))
			return Event{}, false
		}
		return Event{Kind: EventConnection, Connection: &update}, true

	default:
		c.logger.Debug("ignoring notification", slog.String("method", notif.Method))
		return Event{}, false
	}
}

func (c *Client) handleRequest(_ context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case requestGetMessage:
		var req struct {
			Key MessageKey `json:"key"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
		}
		content, ok := c.messages.Lookup(cache.MessageKey{Chat: req.Key.RemoteJID, ID: req.Key.ID})
		if !ok {
			return emptyMessage, nil
		}
		return content, nil

	case requestCachedGroupMetadata:
		var req struct {
			JID string `json:"jid"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
		}
		if c.groups == nil {
			return nil, nil
		}
		meta, ok := c.groups.Cached(req.JID)
		if !ok {
			return nil, nil
		}
		return meta, nil

	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
