package main

import (
	"context"
	"sync"

	"github.com/Veraticus/appbot/internal/whatsapp"
)

// liveMessenger forwards to the client of the current bridge connection. The
// engine outlives connections, so it holds this instead of a client. Calls
// made between connections fail with whatsapp.ErrClosed.
type liveMessenger struct {
	mu     sync.RWMutex
	client whatsapp.Messenger
}

var _ whatsapp.Messenger = (*liveMessenger)(nil)

func (l *liveMessenger) set(m whatsapp.Messenger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = m
}

func (l *liveMessenger) current() (whatsapp.Messenger, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.client == nil {
		return nil, whatsapp.ErrClosed
	}
	return l.client, nil
}

func (l *liveMessenger) Send(ctx context.Context, jid string, content whatsapp.Content, quoted *whatsapp.Message) (*whatsapp.SentMessage, error) {
	m, err := l.current()
	if err != nil {
		return nil, err
	}
	return m.Send(ctx, jid, content, quoted)
}

func (l *liveMessenger) Delete(ctx context.Context, jid string, key whatsapp.MessageKey) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.Delete(ctx, jid, key)
}

func (l *liveMessenger) React(ctx context.Context, jid string, key whatsapp.MessageKey, emoji string) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.React(ctx, jid, key, emoji)
}

func (l *liveMessenger) SendPresence(ctx context.Context, jid, state string) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.SendPresence(ctx, jid, state)
}

func (l *liveMessenger) SubscribePresence(ctx context.Context, jid string) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.SubscribePresence(ctx, jid)
}

func (l *liveMessenger) RejectCall(ctx context.Context, callID, from string) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.RejectCall(ctx, callID, from)
}

func (l *liveMessenger) UpdateProfilePicture(ctx context.Context, jid, path string) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.UpdateProfilePicture(ctx, jid, path)
}

func (l *liveMessenger) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	m, err := l.current()
	if err != nil {
		return "", err
	}
	return m.RequestPairingCode(ctx, phone)
}

func (l *liveMessenger) Connect(ctx context.Context) error {
	m, err := l.current()
	if err != nil {
		return err
	}
	return m.Connect(ctx)
}
