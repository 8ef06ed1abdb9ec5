package config

import (
	"strings"

	ncerr "linkterm/internal/errors"
)

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError naming the offending flag.
func (c *Config) Validate() error {
	if c.Device == "" {
		return &ncerr.ConfigError{
			Field:   "device",
			Message: "a device unit is required",
			Hint:    "e.g. linkterm /dev/ttyUSB0, linkterm pty or linkterm tcp://ser2net:2000",
		}
	}

	if _, err := ParseDispatchMode(string(c.Dispatch)); err != nil {
		return &ncerr.ConfigError{
			Field:   "dispatch",
			Value:   c.Dispatch,
			Message: "unknown dispatch mode",
			Hint:    "use link, keyboard or off",
		}
	}

	if !isStandardBaud(c.Baud) {
		return &ncerr.ConfigError{
			Field:   "baud",
			Value:   c.Baud,
			Message: "not a standard rate",
			Hint:    "the remote end normally runs at 9600",
		}
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return &ncerr.ConfigError{Field: "data-bits", Value: c.DataBits, Message: "must be 5..8"}
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return &ncerr.ConfigError{Field: "stop-bits", Value: c.StopBits, Message: "must be 1 or 2"}
	}

	if err := checkLineCap("keyboard-line-cap", c.KeyboardLineCap); err != nil {
		return err
	}
	if err := checkLineCap("link-line-cap", c.LinkLineCap); err != nil {
		return err
	}
	if c.RecvBufSize < 1 {
		return &ncerr.ConfigError{Field: "recv-buf-size", Value: c.RecvBufSize, Message: "must be at least 1"}
	}

	if c.Greeting != "" && !hasSingleCounterVerb(c.GreetingReply) {
		return &ncerr.ConfigError{
			Field:   "greeting-reply",
			Value:   c.GreetingReply,
			Message: "must contain exactly one %d",
			Hint:    `the default is "Hello Pi #%d!\r\n"`,
		}
	}

	if c.Monitor && c.Dispatch == DispatchKeyboard {
		return &ncerr.ConfigError{
			Field:   "monitor",
			Message: "monitor mode has no keyboard to dispatch from",
			Hint:    "drop --dispatch=keyboard or --monitor",
		}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required"}
		}
		for _, u := range c.Units() {
			if IsLocalUnit(u) {
				return &ncerr.ConfigError{
					Field:   "tunnel",
					Value:   c.TunnelSpec,
					Message: "cannot tunnel to a local device " + u,
					Hint:    "tunnels reach tcp:// or telnet:// serial servers",
				}
			}
		}
	}

	if err := c.Timing.validate(); err != nil {
		return err
	}
	return nil
}

func (t Timing) validate() error {
	if t.MaxSendAttempts < 1 {
		return &ncerr.ConfigError{Field: "max-send-attempts", Value: t.MaxSendAttempts, Message: "must be at least 1"}
	}
	if t.SubPolls < 1 {
		return &ncerr.ConfigError{Field: "sub-polls", Value: t.SubPolls, Message: "must be at least 1"}
	}
	if t.KeepAliveEvery < 1 {
		return &ncerr.ConfigError{Field: "keepalive-every", Value: t.KeepAliveEvery, Message: "must be at least 1"}
	}
	if t.WedgeThreshold < 0 {
		return &ncerr.ConfigError{Field: "wedge-threshold", Value: t.WedgeThreshold, Message: "must not be negative", Hint: "0 turns wedge detection off"}
	}
	if t.GreetingCounterModulo < 1 {
		return &ncerr.ConfigError{Field: "greeting-modulo", Value: t.GreetingCounterModulo, Message: "must be at least 1"}
	}
	for _, d := range []struct {
		name string
		v    int64
	}{
		{"post-init-settle", int64(t.PostInitSettle)},
		{"post-send-settle", int64(t.PostSendSettle)},
		{"error-backoff", int64(t.ErrorBackoff)},
		{"post-reset-settle", int64(t.PostResetSettle)},
		{"greeting-delay", int64(t.GreetingDelay)},
		{"sub-poll-spacing", int64(t.SubPollSpacing)},
		{"loop-delay", int64(t.LoopDelay)},
	} {
		if d.v < 0 {
			return &ncerr.ConfigError{Field: d.name, Value: d.v, Message: "must not be negative"}
		}
	}
	return nil
}

func checkLineCap(field string, n int) error {
	if n < 2 || n > 4096 {
		return &ncerr.ConfigError{
			Field:   field,
			Value:   n,
			Message: "must be 2..4096",
			Hint:    "a buffer of capacity C keeps at most C-1 characters",
		}
	}
	return nil
}

func isStandardBaud(b int) bool {
	for _, s := range StandardBauds {
		if s == b {
			return true
		}
	}
	return false
}

// hasSingleCounterVerb reports whether format has exactly one %d and
// no other verbs.  Escaped %% is allowed.
func hasSingleCounterVerb(format string) bool {
	rest := strings.ReplaceAll(format, "%%", "")
	return strings.Count(rest, "%") == 1 && strings.Count(rest, "%d") == 1
}
