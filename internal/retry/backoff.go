// Package retry provides the bounded retry loop behind reliable link
// sends and a circuit breaker that notices when a link stops accepting
// writes altogether.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"linkterm/util"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help
// (the link is closed, the context is gone).  Return [Permanent](err)
// from the attempt function to stop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned by [Backoff.Do] once every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error // error from the final attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff runs an operation up to MaxAttempts times, waiting between
// attempts.  With Multiplier 1 and no jitter the wait is a fixed
// interval, which is what the serial link wants: the remote end needs
// the same quiet gap after every failed write.
type Backoff struct {
	// InitialDelay is the wait after the first failure (default 200ms).
	InitialDelay time.Duration
	// MaxDelay caps the wait (default 60s).
	MaxDelay time.Duration
	// Multiplier grows the wait after each failure (default 1, constant).
	Multiplier float64
	// MaxAttempts is the total number of tries including the first.
	// 0 retries until the context is cancelled.
	MaxAttempts int
	// Jitter adds ±25% randomisation to each wait.
	Jitter bool
	// Clock paces the waits (default util.RealClock).
	Clock util.Clock
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// LinkBackoff returns the send policy for a serial link: attempts tries
// separated by a constant interval.
func LinkBackoff(attempts int, interval time.Duration, clock util.Clock) *Backoff {
	return &Backoff{
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
		MaxAttempts:  attempts,
		Clock:        clock,
	}
}

// Do executes fn until it succeeds, returns a permanent error, or the
// attempt budget or context is exhausted.  No wait follows the final
// attempt.
//
// The attempt parameter passed to fn is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	clock := b.Clock
	if clock == nil {
		clock = util.RealClock{}
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}

		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		if serr := clock.Sleep(ctx, wait); serr != nil {
			return fmt.Errorf("retry cancelled: %w", serr)
		}

		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	result := float64(d) + delta
	return time.Duration(math.Max(result, float64(time.Millisecond)))
}
