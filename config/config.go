// Package config defines the runtime configuration for linkterm and
// provides the helpers that load, parse and validate it.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DispatchMode selects which line source feeds the command dispatcher.
type DispatchMode string

const (
	// DispatchLink dispatches command lines received from the link and
	// sends the replies back over it.
	DispatchLink DispatchMode = "link"
	// DispatchKeyboard dispatches operator lines locally.
	DispatchKeyboard DispatchMode = "keyboard"
	// DispatchOff turns the dispatcher off; linkterm is a plain terminal.
	DispatchOff DispatchMode = "off"
)

// ParseDispatchMode accepts "link", "keyboard" or "off" in any case.
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch m := DispatchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case DispatchLink, DispatchKeyboard, DispatchOff:
		return m, nil
	}
	return "", fmt.Errorf("unknown dispatch mode %q (want link, keyboard or off)", s)
}

// Timing holds every pacing constant of the link and the session loop.
type Timing struct {
	MaxSendAttempts       int
	PostInitSettle        time.Duration
	PostSendSettle        time.Duration
	ErrorBackoff          time.Duration
	PostResetSettle       time.Duration
	GreetingDelay         time.Duration
	SubPollSpacing        time.Duration
	LoopDelay             time.Duration
	SubPolls              int
	KeepAliveEvery        int
	GreetingCounterModulo int
	WedgeThreshold        int
	WedgeCooldown         time.Duration
}

// Config holds every tuneable for a single linkterm session.
type Config struct {
	// ── Link ─────────────────────────────────────────────────────────
	Device         string // primary unit: /dev/ttyS0, tty:..., pty, tcp://h:p, telnet://h:p
	FallbackDevice string // tried when the primary unit fails to open
	Baud           int
	DataBits       int
	StopBits       int
	ConnTimeout    time.Duration // network units only

	// ── Session ──────────────────────────────────────────────────────
	Dispatch        DispatchMode
	Monitor         bool // receive-only listener instead of the interactive session
	Greeting        string
	GreetingReply   string // formatted with one %d
	AutoReset       bool   // reinitialise the link when it looks wedged
	Announce        bool   // send READY/SHUTDOWN notices in link dispatch mode
	KeyboardLineCap int
	LinkLineCap     int
	RecvBufSize     int
	Timing          Timing

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	MetricsListen string // host:port for the Prometheus endpoint, empty = off
	Verbose       int
}

// Units returns the device preference list: primary, then fallback.
func (c *Config) Units() []string {
	var units []string
	if c.Device != "" {
		units = append(units, c.Device)
	}
	if c.FallbackDevice != "" && c.FallbackDevice != c.Device {
		units = append(units, c.FallbackDevice)
	}
	return units
}

// IsLocalUnit reports whether unit names a device on this machine
// (a tty or a fresh pty) rather than a network serial server.
func IsLocalUnit(unit string) bool {
	return unit == "pty" || strings.HasPrefix(unit, "/dev/") || strings.HasPrefix(unit, "tty:")
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the tunnel fields.  An empty
// spec disables the tunnel.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return err
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}
