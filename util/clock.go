package util

import (
	"context"
	"sync"
	"time"
)

// Clock is the timer collaborator.  Every fixed pacing delay in the
// shim and the session loop goes through Sleep, so tests can swap in a
// clock that records delays instead of waiting for them.
type Clock interface {
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
	Now() time.Time
}

// RealClock sleeps on pooled runtime timers.
type RealClock struct{}

// Sleep waits for d.  A non-positive d returns immediately.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Now is [time.Now].
func (RealClock) Now() time.Time { return time.Now() }

// RecordingClock never blocks.  It advances a virtual time by each
// requested delay and keeps the sequence of delays for inspection.
type RecordingClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewRecordingClock returns a RecordingClock starting at start.
func NewRecordingClock(start time.Time) *RecordingClock {
	return &RecordingClock{now: start}
}

// Sleep records d and advances the virtual time.
func (c *RecordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

// Now returns the virtual time.
func (c *RecordingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the virtual time forward without recording a sleep.
func (c *RecordingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleeps returns a copy of every recorded delay, oldest first.
func (c *RecordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Count reports how many recorded sleeps equal d.
func (c *RecordingClock) Count(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// ResetSleeps forgets every recorded delay.  The virtual time is kept.
func (c *RecordingClock) ResetSleeps() {
	c.mu.Lock()
	c.sleeps = nil
	c.mu.Unlock()
}
