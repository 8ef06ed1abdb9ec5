// Package metrics provides lightweight, lock-free counters for tracking
// the traffic and health of a linkterm session.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one link.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	linkOpen      atomic.Int64
	bytesIn       atomic.Int64
	bytesOut      atomic.Int64
	chunksIn      atomic.Int64
	sendsOK       atomic.Int64
	sendRetries   atomic.Int64
	sendFailures  atomic.Int64
	sendsRejected atomic.Int64
	resets        atomic.Int64
	resetFailures atomic.Int64
	keepAlives    atomic.Int64
	greetings     atomic.Int64
	commands      atomic.Int64
	unknownCmds   atomic.Int64
	errorsTotal   atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastReceive  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Link state ───────────────────────────────────────────────────────

// LinkOpened marks the link as open.
func (c *Collector) LinkOpened() {
	if c == nil {
		return
	}
	c.linkOpen.Store(1)
}

// LinkClosed marks the link as closed.
func (c *Collector) LinkClosed() {
	if c == nil {
		return
	}
	c.linkOpen.Store(0)
}

// IsLinkOpen reports whether the link was last seen open.
func (c *Collector) IsLinkOpen() bool {
	if c == nil {
		return false
	}
	return c.linkOpen.Load() == 1
}

// ── I/O metrics ──────────────────────────────────────────────────────

// Received records one non-empty chunk of n bytes read from the link.
func (c *Collector) Received(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(int64(n))
	c.chunksIn.Add(1)
	c.mu.Lock()
	c.lastReceive = time.Now()
	c.mu.Unlock()
}

// SendSucceeded records a reliable send of n bytes that completed.
func (c *Collector) SendSucceeded(n int) {
	if c == nil {
		return
	}
	c.bytesOut.Add(int64(n))
	c.sendsOK.Add(1)
}

// SendRetried records one failed attempt that will be retried.
func (c *Collector) SendRetried() {
	if c == nil {
		return
	}
	c.sendRetries.Add(1)
}

// SendFailed records a send whose retry budget ran out.
func (c *Collector) SendFailed() {
	if c == nil {
		return
	}
	c.sendFailures.Add(1)
}

// SendRejected records a send refused without touching the device
// because the link looked wedged.
func (c *Collector) SendRejected() {
	if c == nil {
		return
	}
	c.sendsRejected.Add(1)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// SendRetries returns the number of retried attempts.
func (c *Collector) SendRetries() int64 {
	if c == nil {
		return 0
	}
	return c.sendRetries.Load()
}

// SendFailures returns the number of exhausted sends.
func (c *Collector) SendFailures() int64 {
	if c == nil {
		return 0
	}
	return c.sendFailures.Load()
}

// ── Link maintenance ─────────────────────────────────────────────────

// ResetDone records a link reinitialisation; ok reports its outcome.
func (c *Collector) ResetDone(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.resets.Add(1)
	} else {
		c.resetFailures.Add(1)
	}
}

// Resets returns the number of successful resets.
func (c *Collector) Resets() int64 {
	if c == nil {
		return 0
	}
	return c.resets.Load()
}

// KeepAlive records a periodic status probe.
func (c *Collector) KeepAlive() {
	if c == nil {
		return
	}
	c.keepAlives.Add(1)
}

// KeepAlives returns the number of status probes issued.
func (c *Collector) KeepAlives() int64 {
	if c == nil {
		return 0
	}
	return c.keepAlives.Load()
}

// ── Session activity ─────────────────────────────────────────────────

// Greeting records one greeting literal seen on the link.
func (c *Collector) Greeting() {
	if c == nil {
		return
	}
	c.greetings.Add(1)
}

// Greetings returns the number of greetings answered.
func (c *Collector) Greetings() int64 {
	if c == nil {
		return 0
	}
	return c.greetings.Load()
}

// Command records one dispatched command; known reports whether the
// token matched a table entry.
func (c *Collector) Command(known bool) {
	if c == nil {
		return
	}
	c.commands.Add(1)
	if !known {
		c.unknownCmds.Add(1)
	}
}

// Commands returns the number of dispatched commands.
func (c *Collector) Commands() int64 {
	if c == nil {
		return 0
	}
	return c.commands.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	LinkOpen         bool   `json:"link_open"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	ChunksIn         int64  `json:"chunks_in"`
	SendsOK          int64  `json:"sends_ok"`
	SendRetries      int64  `json:"send_retries"`
	SendFailures     int64  `json:"send_failures"`
	SendsRejected    int64  `json:"sends_rejected"`
	Resets           int64  `json:"resets"`
	ResetFailures    int64  `json:"reset_failures"`
	KeepAlives       int64  `json:"keep_alives"`
	Greetings        int64  `json:"greetings"`
	Commands         int64  `json:"commands"`
	UnknownCommands  int64  `json:"unknown_commands"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastReceive      string `json:"last_receive,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		LinkOpen:        c.linkOpen.Load() == 1,
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		ChunksIn:        c.chunksIn.Load(),
		SendsOK:         c.sendsOK.Load(),
		SendRetries:     c.sendRetries.Load(),
		SendFailures:    c.sendFailures.Load(),
		SendsRejected:   c.sendsRejected.Load(),
		Resets:          c.resets.Load(),
		ResetFailures:   c.resetFailures.Load(),
		KeepAlives:      c.keepAlives.Load(),
		Greetings:       c.greetings.Load(),
		Commands:        c.commands.Load(),
		UnknownCommands: c.unknownCmds.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastReceive.IsZero() {
		s.LastReceive = c.lastReceive.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
