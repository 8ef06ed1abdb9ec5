// Package link implements the transport shim: it owns the one open
// device and turns its unreliable writes into bounded, paced sends.
//
// A Shim is owned by a single goroutine and is not safe for concurrent
// use.  The only state other goroutines observe is the metrics
// collector, which is atomic.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkterm/config"
	"linkterm/internal/device"
	ncerr "linkterm/internal/errors"
	"linkterm/internal/metrics"
	"linkterm/internal/retry"
	"linkterm/util"
)

// State is the shim's lifecycle state.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Options configures a Shim.
type Options struct {
	Units       []string // preference order: primary, then fallback
	Params      device.Params
	Timing      config.Timing
	RecvBufSize int
	Clock       util.Clock
	Logger      *util.Logger
	Metrics     *metrics.Collector
}

// OptionsFromConfig derives shim options from the session config.
//
// With AutoReset on and no explicit threshold, wedge detection uses
// config.DefaultWedgeThreshold.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Timing
	if cfg.AutoReset && t.WedgeThreshold == 0 {
		t.WedgeThreshold = config.DefaultWedgeThreshold
	}
	return Options{
		Units:       cfg.Units(),
		Params:      device.Params{Baud: cfg.Baud, DataBits: cfg.DataBits, StopBits: cfg.StopBits},
		Timing:      t,
		RecvBufSize: cfg.RecvBufSize,
	}
}

// Shim is the transport handle.
type Shim struct {
	opener  device.Opener
	opts    Options
	clock   util.Clock
	logger  *util.Logger
	metrics *metrics.Collector

	dev   device.Device
	unit  string
	state State
	buf   []byte

	backoff *retry.Backoff
	breaker *retry.CircuitBreaker
}

// New returns a closed Shim.  Call Open before sending.
func New(opener device.Opener, opts Options) *Shim {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	if opts.RecvBufSize <= 0 {
		opts.RecvBufSize = config.DefaultRecvBufSize
	}
	if opts.Timing == (config.Timing{}) {
		opts.Timing = config.DefaultTiming()
	}

	s := &Shim{
		opener:  opener,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		buf:     make([]byte, opts.RecvBufSize),
	}
	s.backoff = retry.LinkBackoff(opts.Timing.MaxSendAttempts, opts.Timing.ErrorBackoff, opts.Clock)
	s.backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.metrics.SendRetried()
		s.logger.Verbose("send attempt %d failed: %v (retrying in %v)", attempt, err, wait)
	}
	if opts.Timing.WedgeThreshold > 0 {
		s.breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  opts.Timing.WedgeThreshold,
			ResetTimeout: opts.Timing.WedgeCooldown,
			HalfOpenMax:  1,
			Now:          opts.Clock.Now,
			IsFailure:    isLinkFailure,
			OnStateChange: func(from, to retry.State) {
				s.logger.Verbose("link breaker %s → %s", from, to)
			},
		})
	}
	return s
}

// ── Lifecycle ────────────────────────────────────────────────────────

// Open opens the first unit that works, applies the line parameters,
// clears stale bytes and waits the post-init settle.  Opening an open
// shim is a no-op.
func (s *Shim) Open(ctx context.Context) error {
	if s.state == Open {
		return nil
	}
	dev, unit, err := device.OpenFirst(ctx, s.opener, s.opts.Units)
	if err != nil {
		s.metrics.RecordError(err.Error())
		return err
	}
	if err := s.prepare(dev); err != nil {
		dev.Close()
		s.metrics.RecordError(err.Error())
		return err
	}
	s.attach(dev, unit)
	s.logger.Info("link open on %s (%s, no flow control)", unit, s.opts.Params)

	if err := s.clock.Sleep(ctx, s.opts.Timing.PostInitSettle); err != nil {
		return err
	}
	return nil
}

// Configure applies new line parameters to the open device.  Flow
// control is always disabled.
func (s *Shim) Configure(p device.Params) error {
	if s.state != Open {
		return ncerr.ErrNotOpen
	}
	if err := s.dev.Configure(p); err != nil {
		return err
	}
	s.opts.Params = p
	return nil
}

// Close releases the device.  Closing a closed shim is a no-op.
func (s *Shim) Close() error {
	if s.state != Open {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	s.state = Closed
	s.metrics.LinkClosed()
	s.logger.Verbose("link on %s closed", s.unit)
	return err
}

// Reset fully reinitialises the link: close, reopen (primary then
// fallback), restore the parameters, clear, and wait the reset settle.
// A failure leaves the shim Closed and is a *errors.ResetError.
func (s *Shim) Reset(ctx context.Context) error {
	if s.state == Open {
		if err := s.Close(); err != nil {
			s.logger.Debug("reset: close: %v", err)
		}
	}

	err := s.reopen(ctx)
	s.metrics.ResetDone(err == nil)
	if err != nil {
		s.metrics.RecordError(err.Error())
		return err
	}
	if s.breaker != nil {
		s.breaker.Reset()
	}
	s.logger.Info("link reset on %s", s.unit)

	return s.clock.Sleep(ctx, s.opts.Timing.PostResetSettle)
}

func (s *Shim) reopen(ctx context.Context) error {
	dev, unit, err := device.OpenFirst(ctx, s.opener, s.opts.Units)
	if err != nil {
		return &ncerr.ResetError{Stage: "open", Err: err}
	}
	if err := dev.Configure(s.opts.Params); err != nil {
		dev.Close()
		return &ncerr.ResetError{Stage: "configure", Err: err}
	}
	if err := dev.Clear(); err != nil {
		dev.Close()
		return &ncerr.ResetError{Stage: "clear", Err: err}
	}
	s.attach(dev, unit)
	return nil
}

func (s *Shim) prepare(dev device.Device) error {
	if err := dev.Configure(s.opts.Params); err != nil {
		return err
	}
	return dev.Clear()
}

func (s *Shim) attach(dev device.Device, unit string) {
	s.dev = dev
	s.unit = unit
	s.state = Open
	s.metrics.LinkOpened()
}

// ── Data path ────────────────────────────────────────────────────────

// SendReliable writes b, retrying up to the attempt budget.  A write
// that errors or comes up short counts as a failed attempt; the device
// is cleared after every failed attempt and the next try waits the
// error backoff.  After success the shim waits the post-send settle.
//
// When the budget runs out the error is a *errors.SendError.  With a
// positive WedgeThreshold, that many consecutive exhausted sends mark
// the link as wedged and sends fail fast with errors.ErrLinkWedged
// until the cooldown passes or Reset succeeds.  A zero threshold turns
// wedge detection off and every send gets the full attempt budget.
func (s *Shim) SendReliable(ctx context.Context, b []byte) error {
	if s.state != Open {
		return ncerr.ErrNotOpen
	}

	var lastErr error
	send := func() error {
		return s.backoff.Do(ctx, func(attempt int) error {
			err := s.writeOnce(b)
			if err == nil {
				return nil
			}
			lastErr = err
			if cerr := s.dev.Clear(); cerr != nil {
				s.logger.Debug("clear after failed write: %v", cerr)
			}
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		})
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(send)
	} else {
		err = send()
	}

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		s.metrics.SendSucceeded(len(b))
		if serr := s.clock.Sleep(ctx, s.opts.Timing.PostSendSettle); serr != nil {
			s.logger.Debug("post-send settle interrupted: %v", serr)
		}
		return nil
	case errors.Is(err, retry.ErrCircuitOpen):
		s.metrics.SendRejected()
		return fmt.Errorf("%w: %v", ncerr.ErrLinkWedged, err)
	case errors.As(err, &exhausted):
		s.metrics.SendFailed()
		serr := &ncerr.SendError{Attempts: exhausted.Attempts, Err: lastErr}
		s.metrics.RecordError(serr.Error())
		return serr
	default:
		return err
	}
}

func (s *Shim) writeOnce(b []byte) error {
	n, err := s.dev.Write(b)
	if err != nil {
		return err
	}
	if n < len(b) {
		return fmt.Errorf("%w: %d of %d bytes", ncerr.ErrShortWrite, n, len(b))
	}
	return nil
}

// PollReceive returns up to maxBytes of buffered input without
// blocking.  When nothing is buffered it returns nil and does not
// read.  The returned slice is only valid until the next call.
func (s *Shim) PollReceive(maxBytes int) ([]byte, error) {
	if s.state != Open {
		return nil, ncerr.ErrNotOpen
	}
	avail, err := s.dev.QueryAvailable()
	if err != nil {
		return nil, err
	}
	if avail <= 0 || maxBytes <= 0 {
		return nil, nil
	}
	want := min(avail, maxBytes, len(s.buf))
	n, err := s.dev.Read(s.buf[:want])
	if n > 0 {
		s.metrics.Received(n)
	}
	if err != nil {
		return s.buf[:n], err
	}
	return s.buf[:n], nil
}

// Probe issues the periodic keep-alive status query.  Its result is
// discarded; it only keeps the driver exercised.
func (s *Shim) Probe() error {
	if s.state != Open {
		return ncerr.ErrNotOpen
	}
	s.metrics.KeepAlive()
	_, err := s.dev.QueryAvailable()
	return err
}

// ── Accessors ────────────────────────────────────────────────────────

// State reports whether the shim is open.
func (s *Shim) State() State { return s.state }

// Unit returns the identifier of the unit last opened.
func (s *Shim) Unit() string { return s.unit }

// Params returns the line parameters in force.
func (s *Shim) Params() device.Params { return s.opts.Params }

// Wedged reports whether sends are currently being refused.
func (s *Shim) Wedged() bool {
	return s.breaker != nil && s.breaker.CurrentState() == retry.StateOpen
}

// isLinkFailure keeps cancellations out of the wedge count.
func isLinkFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
