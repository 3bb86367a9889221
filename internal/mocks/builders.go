package mocks

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Veraticus/appbot/internal/catalog"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// Test identities.
const (
	UserPhone      = "212600000001"
	UserJID        = UserPhone + "@s.whatsapp.net"
	DeveloperPhone = "212718938088"
	DeveloperJID   = DeveloperPhone + "@s.whatsapp.net"
	GroupJID       = "120363000000000001@g.us"
)

var messageSeq atomic.Int64

// MessageBuilder creates inbound whatsapp.Message values for testing. Built
// messages round-trip through JSON so they carry their raw wire form.
type MessageBuilder struct {
	key      whatsapp.MessageKey
	pushName string
	text     string
	extended bool
	noText   bool
	ts       int64
}

// MessageOption is a functional option for MessageBuilder.
type MessageOption func(*MessageBuilder)

// NewMessageBuilder creates a text message from UserJID.
func NewMessageBuilder(opts ...MessageOption) *MessageBuilder {
	b := &MessageBuilder{
		key: whatsapp.MessageKey{
			RemoteJID: UserJID,
			ID:        fmt.Sprintf("IN%06d", messageSeq.Add(1)),
		},
		pushName: "Test User",
		text:     "hello",
		ts:       time.Now().Unix(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithText sets the message text.
func WithText(text string) MessageOption {
	return func(b *MessageBuilder) { b.text = text }
}

// WithExtendedText sends the text as an extended text message.
func WithExtendedText(text string) MessageOption {
	return func(b *MessageBuilder) {
		b.text = text
		b.extended = true
	}
}

// WithoutText builds a message with non-text content.
func WithoutText() MessageOption {
	return func(b *MessageBuilder) { b.noText = true }
}

// WithChat sets the remote jid.
func WithChat(jid string) MessageOption {
	return func(b *MessageBuilder) { b.key.RemoteJID = jid }
}

// WithChatAlt sets the alternate remote jid.
func WithChatAlt(jid string) MessageOption {
	return func(b *MessageBuilder) { b.key.RemoteJIDAlt = jid }
}

// WithParticipant sets the group participant.
func WithParticipant(jid string) MessageOption {
	return func(b *MessageBuilder) { b.key.Participant = jid }
}

// WithParticipantAlt sets the alternate participant jid.
func WithParticipantAlt(jid string) MessageOption {
	return func(b *MessageBuilder) { b.key.ParticipantAlt = jid }
}

// WithPushName sets the sender's display name.
func WithPushName(name string) MessageOption {
	return func(b *MessageBuilder) { b.pushName = name }
}

// WithID sets the message id.
func WithID(id string) MessageOption {
	return func(b *MessageBuilder) { b.key.ID = id }
}

// FromMe marks the message as sent by the bot's account.
func FromMe() MessageOption {
	return func(b *MessageBuilder) { b.key.FromMe = true }
}

// Build returns the message.
func (b *MessageBuilder) Build() *whatsapp.Message {
	var content map[string]any
	switch {
	case b.noText:
		content = map[string]any{"imageMessage": map[string]any{"caption": b.text}}
	case b.extended:
		content = map[string]any{"extendedTextMessage": map[string]any{"text": b.text}}
	default:
		content = map[string]any{"conversation": b.text}
	}
	wire := map[string]any{
		"key":              b.key,
		"pushName":         b.pushName,
		"message":          content,
		"messageTimestamp": b.ts,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		panic(fmt.Sprintf("marshal test message: %v", err))
	}
	var msg whatsapp.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(fmt.Sprintf("unmarshal test message: %v", err))
	}
	return &msg
}

// TextMessage is shorthand for a plain text message.
func TextMessage(text string, opts ...MessageOption) *whatsapp.Message {
	return NewMessageBuilder(append([]MessageOption{WithText(text)}, opts...)...).Build()
}

// Entries builds n catalog entries named "<prefix> i" with ids "com.test.<prefix>i".
func Entries(prefix string, n int) []catalog.Entry {
	out := make([]catalog.Entry, n)
	for i := range out {
		out[i] = catalog.Entry{
			Title:     fmt.Sprintf("%s %d", prefix, i+1),
			AppID:     fmt.Sprintf("com.test.%s%d", prefix, i+1),
			Developer: "Test Dev",
			Index:     i + 1,
		}
	}
	return out
}

// DetailsFor builds catalog details matching an entry.
func DetailsFor(e catalog.Entry, installs string) catalog.Details {
	return catalog.Details{
		AppID:     e.AppID,
		Title:     e.Title,
		Developer: e.Developer,
		Icon:      e.Icon,
		Installs:  installs,
		Score:     e.Score,
	}
}
