package queue

import "errors"

// ErrStopped indicates the dispatcher no longer accepts tasks.
var ErrStopped = errors.New("queue stopped")
