package cache

import (
	"container/list"
	"encoding/json"
	"sync"
)

// Message log bounds.
const (
	DefaultMessageLogLimit = 1000
	DefaultMessageLogEvict = 200
)

// MessageKey identifies a message within a conversation.
type MessageKey struct {
	Chat string
	ID   string
}

// MessageLog remembers recent message contents so the transport can ask for
// the original content of a message it needs to re-resolve.
// Entries keep their first insertion position; once the log grows past its
// limit the oldest batch is dropped at once.
type MessageLog struct {
	items map[MessageKey]*list.Element
	order *list.List
	limit int
	evict int
	mu    sync.Mutex
}

type logEntry struct {
	key     MessageKey
	content json.RawMessage
}

// NewMessageLog creates a log with the default limit and eviction batch.
func NewMessageLog() *MessageLog {
	return NewMessageLogWithLimits(DefaultMessageLogLimit, DefaultMessageLogEvict)
}

// NewMessageLogWithLimits creates a log that drops the evict oldest entries
// whenever it holds more than limit.
func NewMessageLogWithLimits(limit, evict int) *MessageLog {
	if evict <= 0 {
		evict = 1
	}
	return &MessageLog{
		items: make(map[MessageKey]*list.Element),
		order: list.New(),
		limit: limit,
		evict: evict,
	}
}

// Store records content under key. Keys without an id are ignored.
func (l *MessageLog) Store(key MessageKey, content json.RawMessage) {
	if key.ID == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.items[key]; ok {
		elem.Value.(*logEntry).content = content
		return
	}
	l.items[key] = l.order.PushBack(&logEntry{key: key, content: content})

	if l.order.Len() <= l.limit {
		return
	}
	for i := 0; i < l.evict; i++ {
		front := l.order.Front()
		if front == nil {
			break
		}
		l.order.Remove(front)
		delete(l.items, front.Value.(*logEntry).key)
	}
}

// Lookup returns the content stored under key.
func (l *MessageLog) Lookup(key MessageKey) (json.RawMessage, bool) {
	if key.ID == "" {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	elem, ok := l.items[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*logEntry).content, true
}

// Len returns the number of stored messages.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
