package queue

import (
	"container/list"
	"context"
	"sync"
)

// Task is one unit of work for a conversation.
type Task func(ctx context.Context) error

// ConversationQueue holds the pending tasks of a single conversation.
// It ensures FIFO ordering and records whether a drain loop owns it.
type ConversationQueue struct {
	tasks    *list.List
	key      string
	draining bool
	mu       sync.Mutex
}

// NewConversationQueue creates a new queue for a conversation.
func NewConversationQueue(key string) *ConversationQueue {
	return &ConversationQueue{
		key:   key,
		tasks: list.New(),
	}
}

// Push appends a task. It returns true when the caller must start a drain
// loop because none is active.
func (cq *ConversationQueue) Push(task Task) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cq.tasks.PushBack(task)
	if cq.draining {
		return false
	}
	cq.draining = true
	return true
}

// Pop removes the next task. When the queue is empty it releases the drain
// ownership and returns false.
func (cq *ConversationQueue) Pop() (Task, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	front := cq.tasks.Front()
	if front == nil {
		cq.draining = false
		return nil, false
	}
	cq.tasks.Remove(front)
	return front.Value.(Task), true
}

// Discard drops every pending task and returns how many were dropped.
func (cq *ConversationQueue) Discard() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	n := cq.tasks.Len()
	cq.tasks.Init()
	return n
}

// Size returns the number of tasks waiting in the queue.
func (cq *ConversationQueue) Size() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.tasks.Len()
}

// IsDraining returns true if a drain loop currently owns the queue.
func (cq *ConversationQueue) IsDraining() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.draining
}

// IsIdle returns true if the queue has no tasks and no drain loop.
func (cq *ConversationQueue) IsIdle() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.tasks.Len() == 0 && !cq.draining
}
