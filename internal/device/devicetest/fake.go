// Package devicetest provides a scripted in-memory device for tests of
// the layers above package device.
package devicetest

import (
	"context"
	"errors"
	"sync"

	"linkterm/internal/device"
)

// WriteResult scripts the outcome of one Write call.  N < 0 accepts
// the whole buffer.
type WriteResult struct {
	N   int
	Err error
}

// OK accepts the whole write.
func OK() WriteResult { return WriteResult{N: -1} }

// Fail rejects the write with err.
func Fail(err error) WriteResult { return WriteResult{Err: err} }

// Short accepts only n bytes without an error.
func Short(n int) WriteResult { return WriteResult{N: n} }

// Fake is a device whose writes follow a script and whose inbound
// bytes are queued by the test.  Once the script runs out every write
// succeeds in full.
type Fake struct {
	mu           sync.Mutex
	script       []WriteResult
	attempts     [][]byte
	written      []byte
	inbound      []byte
	params       device.Params
	configured   int
	clears       int
	queries      int
	reads        int
	closed       bool
	ConfigureErr error
	QueryErr     error
}

// New returns an open Fake.
func New() *Fake { return &Fake{} }

// Script appends write outcomes.
func (f *Fake) Script(results ...WriteResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, results...)
}

// Feed queues bytes for the next QueryAvailable/Read.
func (f *Fake) Feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, b...)
}

func (f *Fake) Configure(p device.Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureErr != nil {
		return f.ConfigureErr
	}
	f.params = p
	f.configured++
	return nil
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("devicetest: write on closed device")
	}
	f.attempts = append(f.attempts, append([]byte(nil), p...))

	r := OK()
	if len(f.script) > 0 {
		r = f.script[0]
		f.script = f.script[1:]
	}
	if r.Err != nil {
		return 0, r.Err
	}
	n := len(p)
	if r.N >= 0 && r.N < n {
		n = r.N
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *Fake) QueryAvailable() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.QueryErr != nil {
		return 0, f.QueryErr
	}
	return len(f.inbound), nil
}

func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	n := copy(p, f.inbound)
	f.inbound = f.inbound[n:]
	return n, nil
}

func (f *Fake) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.inbound = nil
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// ── Inspection ───────────────────────────────────────────────────────

// Attempts returns every buffer offered to Write, oldest first.
func (f *Fake) Attempts() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.attempts))
	copy(out, f.attempts)
	return out
}

// Written returns the bytes the device accepted.
func (f *Fake) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

// ResetWritten forgets accepted bytes and attempts.
func (f *Fake) ResetWritten() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = nil
	f.attempts = nil
}

// Clears returns the number of Clear calls.
func (f *Fake) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// Queries returns the number of QueryAvailable calls.
func (f *Fake) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// Reads returns the number of Read calls.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Closed reports whether Close was called since the last reopen.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Params returns the last applied parameters.
func (f *Fake) Params() device.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

// Configured returns the number of successful Configure calls.
func (f *Fake) Configured() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *Fake) reopen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = false
}

// ── Opener ───────────────────────────────────────────────────────────

// Opener hands out Fakes by unit.  A unit listed in Errs fails to open.
// Reopening a unit returns the same Fake, open again, so a test can
// keep feeding it across a reset.
type Opener struct {
	mu      sync.Mutex
	Devices map[string]*Fake
	Errs    map[string]error
	opened  []string
}

// NewOpener returns an Opener with no units.
func NewOpener() *Opener {
	return &Opener{Devices: map[string]*Fake{}, Errs: map[string]error{}}
}

// Open implements device.Opener.
func (o *Opener) Open(ctx context.Context, unit string) (device.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, unit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.Errs[unit]; err != nil {
		return nil, err
	}
	f, ok := o.Devices[unit]
	if !ok {
		f = New()
		o.Devices[unit] = f
	}
	f.reopen()
	return f, nil
}

// Opened returns every unit passed to Open, in order.
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// Device returns the Fake for unit, creating it if needed.
func (o *Opener) Device(unit string) *Fake {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.Devices[unit]
	if !ok {
		f = New()
		o.Devices[unit] = f
	}
	return f
}

// SetErr makes unit fail to open with err (nil clears it).
func (o *Opener) SetErr(unit string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.Errs, unit)
		return
	}
	o.Errs[unit] = err
}
