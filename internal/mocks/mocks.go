// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Veraticus/appbot/internal/catalog"
	"github.com/Veraticus/appbot/internal/download"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// Compile-time checks to ensure mocks implement their interfaces.
var (
	_ whatsapp.Messenger = (*MockMessenger)(nil)
	_ catalog.Source     = (*MockCatalog)(nil)
)

// Action kinds recorded by MockMessenger.
const (
	ActionSend              = "send"
	ActionDelete            = "delete"
	ActionReact             = "react"
	ActionPresence          = "presence"
	ActionPresenceSubscribe = "presenceSubscribe"
	ActionRejectCall        = "rejectCall"
	ActionProfilePicture    = "updateProfilePicture"
	ActionPairingCode       = "requestPairingCode"
	ActionConnect           = "connect"
)

// Action is one recorded messenger call.
type Action struct {
	Timestamp time.Time
	Quoted    *whatsapp.Message
	Kind      string
	JID       string
	// Value is the emoji for reactions, the state for presence updates, the
	// call id for rejections, the path for profile pictures and the phone
	// for pairing codes.
	Value   string
	Key     whatsapp.MessageKey
	Content whatsapp.Content
}

// Text returns the sent text or caption.
func (a Action) Text() string {
	if a.Content.Text != "" {
		return a.Content.Text
	}
	return a.Content.Caption
}

// MockMessenger is a test implementation of whatsapp.Messenger that records
// every call in order.
type MockMessenger struct {
	errs        map[string]error
	pairingCode string
	actions     []Action
	notify      chan struct{}
	nextID      int
	mu          sync.Mutex
}

// NewMockMessenger creates a new mock messenger.
func NewMockMessenger() *MockMessenger {
	return &MockMessenger{
		errs:        make(map[string]error),
		pairingCode: "ABCD-EFGH",
		notify:      make(chan struct{}, 1),
	}
}

// SetError makes every call of the given kind fail with err.
func (m *MockMessenger) SetError(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[kind] = err
}

// SetPairingCode sets the code RequestPairingCode returns.
func (m *MockMessenger) SetPairingCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairingCode = code
}

func (m *MockMessenger) record(a Action) error {
	m.mu.Lock()
	a.Timestamp = time.Now()
	m.actions = append(m.actions, a)
	err := m.errs[a.Kind]
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return err
}

// Send implements whatsapp.Messenger.
func (m *MockMessenger) Send(_ context.Context, jid string, content whatsapp.Content, quoted *whatsapp.Message) (*whatsapp.SentMessage, error) {
	m.mu.Lock()
	m.nextID++
	id := "sent-" + strconv.Itoa(m.nextID)
	m.mu.Unlock()

	key := whatsapp.MessageKey{RemoteJID: jid, ID: id, FromMe: true}
	if err := m.record(Action{Kind: ActionSend, JID: jid, Content: content, Quoted: quoted, Key: key}); err != nil {
		return nil, err
	}
	return &whatsapp.SentMessage{Key: key}, nil
}

// Delete implements whatsapp.Messenger.
func (m *MockMessenger) Delete(_ context.Context, jid string, key whatsapp.MessageKey) error {
	return m.record(Action{Kind: ActionDelete, JID: jid, Key: key})
}

// React implements whatsapp.Messenger.
func (m *MockMessenger) React(_ context.Context, jid string, key whatsapp.MessageKey, emoji string) error {
	return m.record(Action{Kind: ActionReact, JID: jid, Key: key, Value: emoji})
}

// SendPresence implements whatsapp.Messenger.
func (m *MockMessenger) SendPresence(_ context.Context, jid, state string) error {
	return m.record(Action{Kind: ActionPresence, JID: jid, Value: state})
}

// SubscribePresence implements whatsapp.Messenger.
func (m *MockMessenger) SubscribePresence(_ context.Context, jid string) error {
	return m.record(Action{Kind: ActionPresenceSubscribe, JID: jid})
}

// RejectCall implements whatsapp.Messenger.
func (m *MockMessenger) RejectCall(_ context.Context, callID, from string) error {
	return m.record(Action{Kind: ActionRejectCall, JID: from, Value: callID})
}

// UpdateProfilePicture implements whatsapp.Messenger.
func (m *MockMessenger) UpdateProfilePicture(_ context.Context, jid, path string) error {
	return m.record(Action{Kind: ActionProfilePicture, JID: jid, Value: path})
}

// RequestPairingCode implements whatsapp.Messenger.
func (m *MockMessenger) RequestPairingCode(_ context.Context, phone string) (string, error) {
	if err := m.record(Action{Kind: ActionPairingCode, Value: phone}); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairingCode, nil
}

// Connect implements whatsapp.Messenger.
func (m *MockMessenger) Connect(_ context.Context) error {
	return m.record(Action{Kind: ActionConnect})
}

// Actions returns every recorded call in order.
func (m *MockMessenger) Actions() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Action(nil), m.actions...)
}

// ActionsOf returns the recorded calls of one kind.
func (m *MockMessenger) ActionsOf(kind string) []Action {
	var out []Action
	for _, a := range m.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Sent returns the recorded sends.
func (m *MockMessenger) Sent() []Action {
	return m.ActionsOf(ActionSend)
}

// SentTexts returns the text or caption of every send.
func (m *MockMessenger) SentTexts() []string {
	var out []string
	for _, a := range m.Sent() {
		out = append(out, a.Text())
	}
	return out
}

// Reactions returns the emojis reacted with, in order.
func (m *MockMessenger) Reactions() []string {
	var out []string
	for _, a := range m.ActionsOf(ActionReact) {
		out = append(out, a.Value)
	}
	return out
}

// Clear forgets recorded calls.
func (m *MockMessenger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = nil
}

// WaitFor blocks until cond holds for the recorded calls or timeout passes.
func (m *MockMessenger) WaitFor(timeout time.Duration, cond func([]Action) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if cond(m.Actions()) {
			return true
		}
		select {
		case <-m.notify:
		case <-deadline.C:
			return cond(m.Actions())
		}
	}
}

// WaitForSends blocks until at least n messages were sent.
func (m *MockMessenger) WaitForSends(n int, timeout time.Duration) bool {
	return m.WaitFor(timeout, func(actions []Action) bool {
		sent := 0
		for _, a := range actions {
			if a.Kind == ActionSend {
				sent++
			}
		}
		return sent >= n
	})
}

// MockCatalog is a test implementation of catalog.Source.
type MockCatalog struct {
	searchErr error
	results   map[string][]catalog.Entry
	details   map[string]catalog.Details
	searches  []string
	lookups   []string
	mu        sync.Mutex
}

// NewMockCatalog creates an empty catalog.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		results: make(map[string][]catalog.Entry),
		details: make(map[string]catalog.Details),
	}
}

// AddResults sets the search results for term. Indexes are assigned 1-based.
func (c *MockCatalog) AddResults(term string, entries ...catalog.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.Entry, len(entries))
	for i, e := range entries {
		e.Index = i + 1
		out[i] = e
	}
	c.results[term] = out
}

// AddDetails registers details for an app id.
func (c *MockCatalog) AddDetails(d catalog.Details) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[d.AppID] = d
}

// SetSearchError makes every search fail.
func (c *MockCatalog) SetSearchError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchErr = err
}

// Search implements catalog.Source.
func (c *MockCatalog) Search(_ context.Context, term string, n int) ([]catalog.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, term)
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	results := c.results[term]
	if len(results) > n {
		results = results[:n]
	}
	return append([]catalog.Entry(nil), results...), nil
}

// Details implements catalog.Source. Unknown ids return catalog.ErrNotFound.
func (c *MockCatalog) Details(_ context.Context, appID string) (catalog.Details, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups = append(c.lookups, appID)
	if d, ok := c.details[appID]; ok {
		return d, nil
	}
	return catalog.Details{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, appID)
}

// Searches returns the searched terms.
func (c *MockCatalog) Searches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.searches...)
}

// Lookups returns the app ids passed to Details.
func (c *MockCatalog) Lookups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lookups...)
}

// MockDownloader is a test downloader that writes small files into dir.
type MockDownloader struct {
	errs      map[string]error
	types     map[string]string
	sizes     map[string]int64
	dir       string
	fetched   []string
	discarded []string
	mu        sync.Mutex

	// FetchFunc replaces the default behavior when set.
	FetchFunc func(ctx context.Context, appID, title string) (*download.Artifact, error)
}

// NewMockDownloader creates a downloader writing into dir.
func NewMockDownloader(dir string) *MockDownloader {
	return &MockDownloader{
		errs:  make(map[string]error),
		types: make(map[string]string),
		sizes: make(map[string]int64),
		dir:   dir,
	}
}

// SetError makes fetches of appID fail with err.
func (d *MockDownloader) SetError(appID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[appID] = err
}

// SetFileType sets the file type delivered for appID.
func (d *MockDownloader) SetFileType(appID, fileType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types[appID] = fileType
}

// SetSize sets the reported artifact size for appID.
func (d *MockDownloader) SetSize(appID string, size int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sizes[appID] = size
}

// Fetch writes a placeholder package and returns it.
func (d *MockDownloader) Fetch(ctx context.Context, appID, title string) (*download.Artifact, error) {
	d.mu.Lock()
	d.fetched = append(d.fetched, appID)
	fn := d.FetchFunc
	err := d.errs[appID]
	fileType := d.types[appID]
	size := d.sizes[appID]
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, appID, title)
	}
	if err != nil {
		return nil, err
	}
	if fileType == "" {
		fileType = download.TypeAPK
	}
	if size == 0 {
		size = 150 << 20
	}

	path := filepath.Join(d.dir, appID+"."+fileType)
	if err := os.WriteFile(path, []byte("package"), 0o644); err != nil {
		return nil, err
	}
	return &download.Artifact{
		Path:     path,
		FileName: download.FileName(title, appID, fileType),
		FileType: fileType,
		Source:   "mock",
		Size:     size,
	}, nil
}

// Discard removes the placeholder file.
func (d *MockDownloader) Discard(a *download.Artifact) {
	if a == nil {
		return
	}
	d.mu.Lock()
	d.discarded = append(d.discarded, a.Path)
	d.mu.Unlock()
	_ = os.Remove(a.Path)
}

// Fetched returns the requested app ids.
func (d *MockDownloader) Fetched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.fetched...)
}

// Discarded returns the discarded artifact paths.
func (d *MockDownloader) Discarded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.discarded...)
}

// ErrNoIcon is returned by MockStickers for icons it does not know.
var ErrNoIcon = errors.New("icon unavailable")

// MockStickers returns a fixed path per icon URL.
type MockStickers struct {
	paths     map[string]string
	discarded []string
	mu        sync.Mutex
}

// NewMockStickers creates a sticker maker that knows no icons.
func NewMockStickers() *MockStickers {
	return &MockStickers{paths: make(map[string]string)}
}

// AddIcon makes FromURL(iconURL) return path.
func (s *MockStickers) AddIcon(iconURL, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[iconURL] = path
}

// FromURL returns the registered path or ErrNoIcon.
func (s *MockStickers) FromURL(_ context.Context, iconURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.paths[iconURL]; ok {
		return p, nil
	}
	return "", ErrNoIcon
}

// Discard records the path.
func (s *MockStickers) Discard(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = append(s.discarded, path)
}

// Discarded returns the discarded sticker paths.
func (s *MockStickers) Discarded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.discarded...)
}
