// Package device defines the raw duplex byte device that sits under the
// transport shim, and the backends that provide one: local ttys, fresh
// pseudo-terminals, and serial servers reached over TCP or telnet.
//
// A Device is deliberately dumb.  It may drop, truncate or fail a write
// and it never blocks on a read it was not told would succeed; the
// retry and pacing policy lives one layer up, in package link.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	ncerr "linkterm/internal/errors"
	"linkterm/internal/transport"
	"linkterm/util"
)

// Params are the line parameters applied by Configure.
type Params struct {
	Baud     int
	DataBits int
	StopBits int
}

// FlowControl reports whether hardware or software flow control is
// requested.  linkterm always runs the line without it.
func (Params) FlowControl() bool { return false }

func (p Params) String() string {
	return fmt.Sprintf("%d %dN%d", p.Baud, p.DataBits, p.StopBits)
}

// Device is one open unit.
type Device interface {
	// Configure applies p.  A refusal is a *errors.ConfigError.
	Configure(p Params) error
	// Write may accept fewer bytes than offered.
	Write(p []byte) (int, error)
	// QueryAvailable reports how many received bytes are buffered.  It
	// never blocks.
	QueryAvailable() (int, error)
	// Read is only called after QueryAvailable reported data.
	Read(p []byte) (int, error)
	// Clear discards buffered input and pending output.
	Clear() error
	Close() error
}

// Opener opens a unit by its identifier.
type Opener interface {
	Open(ctx context.Context, unit string) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, unit string) (Device, error)

// Open calls f(ctx, unit).
func (f OpenerFunc) Open(ctx context.Context, unit string) (Device, error) { return f(ctx, unit) }

// OpenFirst tries each unit in order and returns the first that opens,
// together with its identifier.  When every unit fails the error is an
// *errors.OpenError listing each failure.
func OpenFirst(ctx context.Context, o Opener, units []string) (Device, string, error) {
	oe := &ncerr.OpenError{}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		d, err := o.Open(ctx, u)
		if err == nil {
			return d, u, nil
		}
		oe.Units = append(oe.Units, u)
		oe.Errs = append(oe.Errs, err)
	}
	return nil, "", oe
}

// ── Router ───────────────────────────────────────────────────────────

// Router is the production Opener.  It picks a backend from the unit
// syntax:
//
//	/dev/ttyS0, tty:/path    local serial line (termios)
//	pty                      new pseudo-terminal; the peer opens the slave
//	tcp://host:port          raw TCP serial server
//	telnet://host[:port]     telnet serial server (ser2net telnet mode)
type Router struct {
	// Dialer reaches network units.  Nil means a plain TCPDialer.
	Dialer  transport.Dialer
	Timeout time.Duration
	Logger  *util.Logger
}

// Open implements Opener.
func (r *Router) Open(ctx context.Context, unit string) (Device, error) {
	switch {
	case unit == "pty":
		return openPTY(r.logger())
	case strings.HasPrefix(unit, "tty:"):
		return openTTY(strings.TrimPrefix(unit, "tty:"))
	case strings.HasPrefix(unit, "/dev/"):
		return openTTY(unit)
	case strings.HasPrefix(unit, "tcp://"):
		return r.dial(ctx, strings.TrimPrefix(unit, "tcp://"), false)
	case strings.HasPrefix(unit, "telnet://"):
		return r.dial(ctx, strings.TrimPrefix(unit, "telnet://"), true)
	}
	return nil, fmt.Errorf("unrecognised device unit %q", unit)
}

func (r *Router) dial(ctx context.Context, addr string, telnet bool) (Device, error) {
	defPort := 0
	if telnet {
		defPort = 23
	}
	addr, err := util.NormalizeAddr(addr, defPort)
	if err != nil {
		return nil, err
	}
	d := r.Dialer
	if d == nil {
		d = &transport.TCPDialer{Timeout: r.Timeout}
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return dialNet(ctx, d, addr, telnet, r.logger())
}

func (r *Router) logger() *util.Logger {
	if r.Logger == nil {
		return util.NewLogger(0)
	}
	return r.Logger
}
