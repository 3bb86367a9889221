// Package events publishes bot activity (deliveries and bans) to a message
// bus so other services can follow it.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Subjects events are published on.
const (
	SubjectDownloads = "appbot.downloads"
	SubjectBans      = "appbot.bans"
)

// ErrConnectionClosed is returned when publishing after Close.
var ErrConnectionClosed = errors.New("events: connection closed")

// Download is emitted after an artifact was delivered.
type Download struct {
	At       time.Time `json:"at"`
	Phone    string    `json:"phone"`
	AppID    string    `json:"app_id"`
	AppName  string    `json:"app_name"`
	FileType string    `json:"file_type"`
	Source   string    `json:"source,omitempty"`
	FileSize int64     `json:"file_size"`
}

// Ban is emitted when a user is banned or unbanned.
type Ban struct {
	At     time.Time `json:"at"`
	Phone  string    `json:"phone"`
	Reason string    `json:"reason,omitempty"`
	Banned bool      `json:"banned"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishDownload(ctx context.Context, ev Download) error
	PublishBan(ctx context.Context, ev Ban) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) PublishDownload(context.Context, Download) error { return nil }
func (Noop) PublishBan(context.Context, Ban) error           { return nil }
func (Noop) Close() error                                    { return nil }

// Recorder keeps events in memory. It backs tests and single-process runs.
type Recorder struct {
	downloads []Download
	bans      []Ban
	mu        sync.Mutex
	closed    bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PublishDownload(ctx context.Context, ev Download) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrConnectionClosed
	}
	r.downloads = append(r.downloads, ev)
	return nil
}

func (r *Recorder) PublishBan(ctx context.Context, ev Ban) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrConnectionClosed
	}
	r.bans = append(r.bans, ev)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Downloads returns a copy of the recorded download events.
func (r *Recorder) Downloads() []Download {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Download(nil), r.downloads...)
}

// Bans returns a copy of the recorded ban events.
func (r *Recorder) Bans() []Ban {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Ban(nil), r.bans...)
}
