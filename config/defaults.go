package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.  The pacing values match what the far end of the link
// expects; change them only together with the remote program.

const (
	// Link parameters: 9600 baud, 8 data bits, 1 stop bit, no parity.
	DefaultBaud     = 9600
	DefaultDataBits = 8
	DefaultStopBits = 1

	// DefaultMaxSendAttempts is the number of tries per reliable send.
	DefaultMaxSendAttempts = 3

	// DefaultPostInitSettle is the quiet period after opening the link.
	DefaultPostInitSettle = 500 * time.Millisecond

	// DefaultPostSendSettle is the quiet period after a successful send.
	DefaultPostSendSettle = 100 * time.Millisecond

	// DefaultErrorBackoff is the wait after a failed send attempt.
	DefaultErrorBackoff = 200 * time.Millisecond

	// DefaultPostResetSettle is the quiet period after a link reset.
	DefaultPostResetSettle = time.Second

	// DefaultGreetingDelay is the pause before answering a greeting.
	DefaultGreetingDelay = 150 * time.Millisecond

	// DefaultSubPollSpacing separates empty link polls in one iteration.
	DefaultSubPollSpacing = 4 * time.Millisecond

	// DefaultLoopDelay is the session loop cadence.
	DefaultLoopDelay = 40 * time.Millisecond

	// DefaultSubPolls is the number of quick link polls per iteration.
	DefaultSubPolls = 3

	// DefaultKeepAliveEvery issues a status probe every N iterations.
	DefaultKeepAliveEvery = 250

	// DefaultGreetingCounterModulo bounds the counter in greeting replies.
	DefaultGreetingCounterModulo = 100

	// Line buffer capacities.  A buffer of capacity C retains at most
	// C-1 characters.
	DefaultKeyboardLineCap = 128
	DefaultLinkLineCap     = 256

	// DefaultRecvBufSize is the largest single link read.
	DefaultRecvBufSize = 1024

	// Wedge detection: this many consecutive exhausted sends open the
	// breaker for DefaultWedgeCooldown.  It is off unless --auto-reset
	// is given or wedge_threshold is set.
	DefaultWedgeThreshold = 5
	DefaultWedgeCooldown  = 30 * time.Second

	// DefaultGreeting is the literal that triggers an auto-reply.
	DefaultGreeting = "Hello Amiga"

	// DefaultGreetingReply is formatted with the loop counter.
	DefaultGreetingReply = "Hello Pi #%d!\r\n"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultTelnetPort is used for telnet:// units without a port.
	DefaultTelnetPort = 23

	// DefaultConnTimeout bounds network device and SSH dials.
	DefaultConnTimeout = 10 * time.Second

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30
)

// StandardBauds lists the rates a termios line can be set to.
var StandardBauds = []int{
	300, 600, 1200, 2400, 4800, 9600, 19200, 38400,
	57600, 115200, 230400, 460800, 921600,
}

// DefaultTiming returns the pacing table with every default applied.
func DefaultTiming() Timing {
	return Timing{
		MaxSendAttempts:       DefaultMaxSendAttempts,
		PostInitSettle:        DefaultPostInitSettle,
		PostSendSettle:        DefaultPostSendSettle,
		ErrorBackoff:          DefaultErrorBackoff,
		PostResetSettle:       DefaultPostResetSettle,
		GreetingDelay:         DefaultGreetingDelay,
		SubPollSpacing:        DefaultSubPollSpacing,
		LoopDelay:             DefaultLoopDelay,
		SubPolls:              DefaultSubPolls,
		KeepAliveEvery:        DefaultKeepAliveEvery,
		GreetingCounterModulo: DefaultGreetingCounterModulo,
		WedgeThreshold:        0,
		WedgeCooldown:         DefaultWedgeCooldown,
	}
}

// Default returns a Config with every default applied and no device.
func Default() *Config {
	return &Config{
		Baud:            DefaultBaud,
		DataBits:        DefaultDataBits,
		StopBits:        DefaultStopBits,
		Dispatch:        DispatchLink,
		Greeting:        DefaultGreeting,
		GreetingReply:   DefaultGreetingReply,
		Announce:        true,
		KeyboardLineCap: DefaultKeyboardLineCap,
		LinkLineCap:     DefaultLinkLineCap,
		RecvBufSize:     DefaultRecvBufSize,
		ConnTimeout:     DefaultConnTimeout,
		Verbose:         1,
		Timing:          DefaultTiming(),
	}
}
