package whatsapp

import (
	"encoding/json"
)

// Chat presence states.
const (
	PresenceAvailable   = "available"
	PresenceUnavailable = "unavailable"
	PresenceComposing   = "composing"
	PresencePaused      = "paused"
)

// Connection states reported by the bridge.
const (
	ConnectionConnecting = "connecting"
	ConnectionOpen       = "open"
	ConnectionClose      = "close"
)

// StatusLoggedOut is the disconnect status code for a session that was
// logged out from the phone. Such a session must not reconnect.
const StatusLoggedOut = 401

// CallOffer is the status of an incoming call that has not been answered.
const CallOffer = "offer"

// MessageKey addresses a message on the platform.
type MessageKey struct {
	RemoteJID      string `json:"remoteJid"`
	RemoteJIDAlt   string `json:"remoteJidAlt,omitempty"`
	Participant    string `json:"participant,omitempty"`
	ParticipantAlt string `json:"participantAlt,omitempty"`
	ID             string `json:"id"`
	FromMe         bool   `json:"fromMe"`
}

// Message is an inbound chat message.
type Message struct {
	Key       MessageKey      `json:"key"`
	PushName  string          `json:"pushName,omitempty"`
	Content   *MessageContent `json:"message,omitempty"`
	Timestamp int64           `json:"messageTimestamp,omitempty"`

	raw  json.RawMessage
	body json.RawMessage
}

// MessageContent holds the kinds of message body the bot understands.
// Other kinds decode to an empty struct and are ignored.
type MessageContent struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
}

// ExtendedTextMessage is a text message with formatting or a quote.
type ExtendedTextMessage struct {
	Text string `json:"text"`
}

// Text returns the message text and whether the message is a text message.
func (m *Message) Text() (string, bool) {
	if m == nil || m.Content == nil {
		return "", false
	}
	if m.Content.Conversation != "" {
		return m.Content.Conversation, true
	}
	if m.Content.ExtendedTextMessage != nil {
		return m.Content.ExtendedTextMessage.Text, true
	}
	return "", false
}

// Raw returns the message as received, for quoting it in replies.
func (m *Message) Raw() json.RawMessage {
	return m.raw
}

// Body returns the undecoded message body.
func (m *Message) Body() json.RawMessage {
	return m.body
}

// UnmarshalJSON keeps the raw bytes next to the decoded fields.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		*Alias
		Body json.RawMessage `json:"message,omitempty"`
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.raw = append(json.RawMessage(nil), data...)
	m.body = nil
	m.Content = nil
	if len(aux.Body) == 0 || string(aux.Body) == "null" {
		return nil
	}
	var content MessageContent
	if err := json.Unmarshal(aux.Body, &content); err != nil {
		return err
	}
	m.body = append(json.RawMessage(nil), aux.Body...)
	m.Content = &content
	return nil
}

// Call is an incoming call event.
type Call struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Status  string `json:"status"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// ConnectionUpdate reports the bridge's connection to the platform.
type ConnectionUpdate struct {
	Connection     string          `json:"connection,omitempty"`
	Registered     *bool           `json:"registered,omitempty"`
	LastDisconnect *DisconnectInfo `json:"lastDisconnect,omitempty"`
}

// DisconnectInfo explains why the connection closed.
type DisconnectInfo struct {
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// LoggedOut reports whether the update closes a logged-out session.
func (u *ConnectionUpdate) LoggedOut() bool {
	return u.Connection == ConnectionClose && u.LastDisconnect != nil &&
		u.LastDisconnect.StatusCode == StatusLoggedOut
}

// NeedsPairing reports whether the account is connecting without credentials.
func (u *ConnectionUpdate) NeedsPairing() bool {
	return u.Connection == ConnectionConnecting && u.Registered != nil && !*u.Registered
}

// GroupMetadata describes a group chat.
type GroupMetadata struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject,omitempty"`
	Owner        string        `json:"owner,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// Participant is a group member.
type Participant struct {
	ID    string `json:"id"`
	Admin string `json:"admin,omitempty"`
}

// Media points at a file in the spool directory.
type Media struct {
	URL string `json:"url"`
}

// Content is an outbound message body. Exactly one of Text, Image, Sticker
// or Document is set.
type Content struct {
	Text     string `json:"text,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Sticker  *Media `json:"sticker,omitempty"`
	Document *Media `json:"document,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// Kind names the body type, for logging.
func (c Content) Kind() string {
	switch {
	case c.Document != nil:
		return "document"
	case c.Sticker != nil:
		return "sticker"
	case c.Image != nil:
		return "image"
	default:
		return "text"
	}
}

// TextContent builds a text body.
func TextContent(text string) Content {
	return Content{Text: text}
}

// ImageContent builds an image body with a caption.
func ImageContent(path, caption string) Content {
	return Content{Image: &Media{URL: path}, Caption: caption}
}

// StickerContent builds a sticker body.
func StickerContent(path string) Content {
	return Content{Sticker: &Media{URL: path}}
}

// DocumentContent builds a document body.
func DocumentContent(path, fileName, mimetype, caption string) Content {
	return Content{Document: &Media{URL: path}, FileName: fileName, Mimetype: mimetype, Caption: caption}
}

// SentMessage is what the bridge returns for a sent message.
type SentMessage struct {
	Key     MessageKey      `json:"key"`
	Message json.RawMessage `json:"message,omitempty"`
}

// EventKind tells which field of an Event is set.
type EventKind int

// Event kinds.
const (
	EventMessages EventKind = iota + 1
	EventCalls
	EventConnection
)

func (k EventKind) String() string {
	switch k {
	case EventMessages:
		return "messages"
	case EventCalls:
		return "calls"
	case EventConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Event is a decoded bridge notification.
type Event struct {
	Connection *ConnectionUpdate
	Messages   []*Message
	Calls      []Call
	Kind       EventKind
}
