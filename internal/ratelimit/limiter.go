// Package ratelimit implements the per-user abuse limits: a sliding hourly
// message window and a burst counter that only runs while a download is in flight.
package ratelimit

import (
	"sync"
	"time"
)

// Default limits.
const (
	DefaultWindow      = time.Hour
	DefaultHourlyLimit = 25
	DefaultBurstLimit  = 5
)

// Decision is the outcome of a limit check.
type Decision int

const (
	// OK lets the message through.
	OK Decision = iota
	// Block means the caller must ban the user.
	Block
)

// String returns the decision name.
func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "ok"
}

// Privileges reports which users bypass the limits.
type Privileges interface {
	IsDeveloper(key string) bool
	IsVIP(key string) bool
}

// Limiter tracks message rates per user key.
type Limiter struct {
	hourly      map[string][]time.Time
	bursts      map[string]int
	privileges  Privileges
	now         func() time.Time
	window      time.Duration
	hourlyLimit int
	burstLimit  int
	mu          sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithHourlyLimit overrides the number of messages allowed per window.
func WithHourlyLimit(n int) Option {
	return func(l *Limiter) { l.hourlyLimit = n }
}

// WithBurstLimit overrides the number of messages allowed during a download.
func WithBurstLimit(n int) Option {
	return func(l *Limiter) { l.burstLimit = n }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. privileges may be nil, in which case nobody bypasses.
func New(privileges Privileges, opts ...Option) *Limiter {
	l := &Limiter{
		hourly:      make(map[string][]time.Time),
		bursts:      make(map[string]int),
		privileges:  privileges,
		now:         time.Now,
		window:      DefaultWindow,
		hourlyLimit: DefaultHourlyLimit,
		burstLimit:  DefaultBurstLimit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckHourly records a message for key and reports whether the user went
// over the hourly limit.
func (l *Limiter) CheckHourly(key string) Decision {
	if l.isDeveloper(key) {
		return OK
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := pruneBefore(l.hourly[key], now.Add(-l.window))
	kept = append(kept, now)
	l.hourly[key] = kept

	if len(kept) > l.hourlyLimit {
		return Block
	}
	return OK
}

// StartBurst begins counting messages for key from zero.
func (l *Limiter) StartBurst(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bursts[key] = 0
}

// CheckBurst counts a message sent while a download is running. Keys with no
// active tracker are always allowed.
func (l *Limiter) CheckBurst(key string) Decision {
	if l.isDeveloper(key) || l.isVIP(key) {
		return OK
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	count, tracking := l.bursts[key]
	if !tracking {
		return OK
	}
	if count >= l.burstLimit {
		return Block
	}
	l.bursts[key] = count + 1
	return OK
}

// StopBurst discards the burst tracker for key.
func (l *Limiter) StopBurst(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bursts, key)
}

// Tracking reports whether a burst tracker is active for key.
func (l *Limiter) Tracking(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.bursts[key]
	return ok
}

// Reset forgets everything known about key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hourly, key)
	delete(l.bursts, key)
}

// CleanupStale drops hourly trackers whose newest message is older than maxAge.
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for key, stamps := range l.hourly {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(cutoff) {
			delete(l.hourly, key)
			removed++
		}
	}
	return removed
}

// Stats returns limiter statistics.
func (l *Limiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	messages := 0
	for _, stamps := range l.hourly {
		messages += len(stamps)
	}
	return map[string]any{
		"users":           len(l.hourly),
		"window_messages": messages,
		"active_bursts":   len(l.bursts),
	}
}

func (l *Limiter) isDeveloper(key string) bool {
	return l.privileges != nil && l.privileges.IsDeveloper(key)
}

func (l *Limiter) isVIP(key string) bool {
	return l.privileges != nil && l.privileges.IsVIP(key)
}

// pruneBefore drops timestamps at or before cutoff. Timestamps are appended
// in order so the survivors are a suffix.
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
