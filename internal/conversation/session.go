package conversation

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Veraticus/appbot/internal/catalog"
)

// State is the position of a conversation in the search, select and
// download flow.
type State int

// Conversation states.
const (
	StateIdle State = iota
	StateWaitingForSearch
	StateWaitingForSelection
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForSearch:
		return "waiting_for_search"
	case StateWaitingForSelection:
		return "waiting_for_selection"
	default:
		return "unknown"
	}
}

// Session is the per-conversation state. Only the conversation's queue
// drain goroutine touches the exported fields. The downloading flag and the
// hold count are read by other goroutines and are atomic.
type Session struct {
	Key string
	// LastListMessage is the id of the last result list sent, so it can be deleted.
	LastListMessage string
	Results         []catalog.Entry
	State           State
	FirstTime       bool
	downloading     atomic.Bool
	holds           atomic.Int32
}

func newSession(key string) *Session {
	return &Session{
		Key:       key,
		State:     StateIdle,
		FirstTime: true,
	}
}

// IsDownloading reports whether a download is in flight for the conversation.
func (s *Session) IsDownloading() bool {
	return s.downloading.Load()
}

// Hold pins the session while a task works on it. Every Hold needs a
// matching Release.
func (s *Session) Hold() {
	s.holds.Add(1)
}

// Release undoes one Hold.
func (s *Session) Release() {
	s.holds.Add(-1)
}

// Busy reports whether the session is downloading or held, in which case
// the store keeps it.
func (s *Session) Busy() bool {
	return s.downloading.Load() || s.holds.Load() > 0
}

// BeginDownload marks the session as downloading.
func (s *Session) BeginDownload() {
	s.downloading.Store(true)
}

// FinishDownload clears the download flag and returns the session to
// waiting for a new search. Calling it twice is harmless.
func (s *Session) FinishDownload() {
	s.downloading.Store(false)
	s.State = StateWaitingForSearch
	s.Results = nil
}

// SetResults stores search results and waits for the user's pick.
// An empty slice leaves the session waiting for a search.
func (s *Session) SetResults(entries []catalog.Entry) {
	if len(entries) == 0 {
		s.ClearResults()
		return
	}
	s.Results = append([]catalog.Entry(nil), entries...)
	s.State = StateWaitingForSelection
}

// ClearResults drops the results and the remembered list message.
func (s *Session) ClearResults() {
	s.Results = nil
	s.LastListMessage = ""
	s.State = StateWaitingForSearch
}

// Selection interprets text as a 1-based pick from the stored results.
// Leading digits count, so "2 please" selects the second entry.
func (s *Session) Selection(text string) (catalog.Entry, bool) {
	n, ok := leadingInt(text)
	if !ok || n < 1 || n > len(s.Results) {
		return catalog.Entry{}, false
	}
	return s.Results[n-1], true
}

func leadingInt(text string) (int, bool) {
	text = strings.TrimSpace(text)
	end := 0
	if end < len(text) && (text[end] == '+' || text[end] == '-') {
		end++
	}
	start := end
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(text[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
