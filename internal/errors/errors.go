// Package errors provides domain-specific error types for linkterm.
//
// These types carry structured context (device unit, attempt count,
// reset stage) that helps callers decide how to handle failures and
// gives the operator a better message than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotOpen          = errors.New("link is not open")
	ErrExhaustedRetries = errors.New("send retries exhausted")
	ErrLinkWedged       = errors.New("link appears wedged")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnsupported      = errors.New("not supported on this platform")
	ErrTunnelClosed     = errors.New("tunnel is closed")
	ErrNotConnected     = errors.New("not connected")
	ErrShortWrite       = errors.New("short write")
)

// ── Structured error types ───────────────────────────────────────────

// ConfigError represents an invalid configuration value, either caught
// during validation or refused by the device itself.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// OpenError reports that every unit in the preference list failed to
// open.  Errs is index-aligned with Units.
type OpenError struct {
	Units []string
	Errs  []error
}

func (e *OpenError) Error() string {
	parts := make([]string, 0, len(e.Units))
	for i, u := range e.Units {
		var err error
		if i < len(e.Errs) {
			err = e.Errs[i]
		}
		parts = append(parts, fmt.Sprintf("%s: %v", u, err))
	}
	if len(parts) == 0 {
		return "open: no device units configured"
	}
	return "open: all units failed (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes the per-unit errors to errors.Is / errors.As.
func (e *OpenError) Unwrap() []error { return e.Errs }

// SendError is returned by a reliable send once the retry budget is
// spent.  It always matches ErrExhaustedRetries.
type SendError struct {
	Attempts int
	Err      error // last device error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrExhaustedRetries, e.Err} }

// ResetError reports which stage of a full link reinitialisation failed.
type ResetError struct {
	Stage string // "close", "open", "configure", "clear"
	Err   error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset %s: %v", e.Stage, e.Err)
}

func (e *ResetError) Unwrap() error { return e.Err }

// UnknownCommandError is produced when a dispatched token matches no
// table entry.  It is an operator-visible outcome, not a fault.
type UnknownCommandError struct {
	Token string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Token)
}

func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }

// NetworkError represents a failure reaching a network serial server.
type NetworkError struct {
	Op   string // "dial", "negotiate", "write", "read"
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether a device error is transient: timeouts,
// interrupted or would-block system calls.  Everything else is
// still retried by the shim, but logged more loudly.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, ErrShortWrite) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EAGAIN || errno == syscall.EINTR || errno == syscall.EIO
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use linkterm/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
