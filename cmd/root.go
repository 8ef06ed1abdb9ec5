// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"linkterm/config"
	"linkterm/internal/core"
	"linkterm/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X linkterm/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// ConfigEnv names a config file when --config is not given.
const ConfigEnv = config.EnvPrefix + "_CONFIG"

// Execute parses args and runs the appropriate linkterm mode.
func Execute(ctx context.Context, args []string) error {
	inv, err := parse(args)
	if err != nil {
		return err
	}
	switch {
	case inv.help:
		printUsage(os.Stderr, inv.flags)
		return nil
	case inv.version:
		fmt.Printf("linkterm %s\n", version)
		return nil
	}
	cfg := inv.cfg

	logger := util.NewLogger(cfg.Verbose)
	defer logger.Sync() //nolint:errcheck

	if inv.dryRun {
		logger.Info("configuration OK: %s", describe(cfg))
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	m, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	logger.Verbose("starting: %s", describe(cfg))
	return m.Run(ctx)
}

// invocation is the outcome of parsing one command line.
type invocation struct {
	cfg     *config.Config
	flags   *flag.FlagSet
	help    bool
	version bool
	dryRun  bool
}

// parse layers defaults, then the config file, then LINKTERM_*
// variables, then flags, and validates the result.  The file path
// itself comes from --config, so it is picked out of args before the
// full parse.
func parse(args []string) (*invocation, error) {
	cfg := config.Default()

	path, err := configPath(args)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	inv := &invocation{cfg: cfg}
	fs := flag.NewFlagSet("linkterm", flag.ContinueOnError)
	fs.SortFlags = false
	inv.flags = fs

	fs.String("config", path, "TOML config file (or $"+ConfigEnv+")")

	// ── link ─────────────────────────────────────────────────────
	fs.IntVarP(&cfg.Baud, "baud", "b", cfg.Baud, "Line speed")
	fs.IntVar(&cfg.DataBits, "data-bits", cfg.DataBits, "Data bits (5-8)")
	fs.IntVar(&cfg.StopBits, "stop-bits", cfg.StopBits, "Stop bits (1 or 2)")
	fs.DurationVar(&cfg.ConnTimeout, "conn-timeout", cfg.ConnTimeout, "Dial timeout for network units")

	// ── session ──────────────────────────────────────────────────
	dispatch := fs.StringP("dispatch", "d", string(cfg.Dispatch), "Command source: link, keyboard or off")
	fs.BoolVarP(&cfg.Monitor, "monitor", "m", cfg.Monitor, "Receive-only monitor, no keyboard")
	fs.StringVar(&cfg.Greeting, "greeting", cfg.Greeting, "Greeting that triggers an auto-reply (empty = off)")
	fs.StringVar(&cfg.GreetingReply, "greeting-reply", cfg.GreetingReply, "Auto-reply format with one %d")
	fs.BoolVar(&cfg.AutoReset, "auto-reset", cfg.AutoReset, "Reinitialise the link when it looks wedged")
	noAnnounce := fs.Bool("no-announce", !cfg.Announce, "Do not send READY/SHUTDOWN notices")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach network units via SSH [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "Serve Prometheus metrics on host:port")
	verbose := fs.CountP("verbose", "v", "Increase verbosity (repeatable)")

	fs.BoolVar(&inv.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&inv.version, "version", false, "Print version and exit")
	fs.BoolVarP(&inv.help, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(os.Stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		inv.help = true
	}
	if inv.help || inv.version {
		return inv, nil
	}

	if fs.Changed("verbose") {
		cfg.Verbose = *verbose
	}
	if fs.Changed("no-announce") {
		cfg.Announce = !*noAnnounce
	}
	mode, err := config.ParseDispatchMode(*dispatch)
	if err != nil {
		return nil, err
	}
	cfg.Dispatch = mode

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds --config (or $LINKTERM_CONFIG) without failing on
// the flags only the full parse knows about.
func configPath(args []string) (string, error) {
	pre := flag.NewFlagSet("linkterm", flag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}

	path := pre.String("config", "", "")
	pre.BoolP("help", "h", false, "")
	if err := pre.Parse(args); err != nil {
		return "", err
	}
	if *path != "" {
		return *path, nil
	}
	return os.Getenv(ConfigEnv), nil
}

// parsePositional takes the device unit and an optional fallback.  A
// positional unit overrides one from the file or the environment.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
	case 1:
		cfg.Device = remaining[0]
	case 2:
		cfg.Device = remaining[0]
		cfg.FallbackDevice = remaining[1]
	default:
		return fmt.Errorf("too many arguments: expected <device> [fallback-device]")
	}
	return nil
}

func describe(cfg *config.Config) string {
	s := fmt.Sprintf("units=%v line=%d/%dN%d dispatch=%s",
		cfg.Units(), cfg.Baud, cfg.DataBits, cfg.StopBits, cfg.Dispatch)
	if cfg.Monitor {
		s += " monitor"
	}
	if cfg.TunnelEnabled {
		s += fmt.Sprintf(" tunnel=%s@%s:%d", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
	return s
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `linkterm – serial-link command terminal v%s

Talks to a remote machine over a serial line: relays the keyboard,
answers greetings and executes line commands received from the link.

Usage:
  linkterm [options] <device> [fallback-device]

Devices:
  /dev/ttyUSB0, tty:/dev/ttyS1        local serial line
  pty                                 fresh pseudo-terminal (prints its path)
  tcp://host:port                     raw serial server (ser2net raw)
  telnet://host[:port]                telnet serial server

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  linkterm /dev/ttyUSB0 /dev/ttyUSB1          Primary and fallback line
  linkterm -d keyboard pty                    Try commands locally
  linkterm -m tcp://ser2net.lab:2001          Watch a line
  linkterm -T pi@bastion telnet://10.0.0.9    Serial server behind SSH
`)
}
