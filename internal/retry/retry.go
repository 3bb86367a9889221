// Package retry runs an operation under an explicit retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff returns how long to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// Policy describes how often and how patiently to retry.
type Policy struct {
	// Backoff computes the wait after each failed attempt. Nil means no wait.
	Backoff Backoff
	// Retryable reports whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Last     error
	Attempts int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Linear waits step × attempt.
func Linear(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// Exponential doubles base per attempt up to limit, with ±5% jitter.
func Exponential(base, limit time.Duration) Backoff {
	const maxShift = 30
	return func(attempt int) time.Duration {
		delay := base
		for i := 0; i < attempt && i < maxShift; i++ {
			delay *= 2
			if delay > limit {
				return limit
			}
		}

		jitterRange := delay / 10
		if jitterRange > 0 {
			jitter := time.Duration(time.Now().UnixNano() % int64(jitterRange))
			delay += jitter - jitterRange/2
		}
		return delay
	}
}

// Do calls fn until it succeeds, the policy is exhausted, the error is not
// retryable, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return errors.Join(last, err)
		}
	}

	return &ExhaustedError{Attempts: attempts, Last: last}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
