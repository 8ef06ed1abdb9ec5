package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every supported variable name.
const EnvPrefix = "LINKTERM"

// envOverlay mirrors the settable subset of Config.  Every field is a
// pointer so envconfig leaves unset variables nil and only variables
// that are present override the existing value.
type envOverlay struct {
	Device         *string        `envconfig:"DEVICE"`
	FallbackDevice *string        `envconfig:"FALLBACK_DEVICE"`
	Baud           *int           `envconfig:"BAUD"`
	DataBits       *int           `envconfig:"DATA_BITS"`
	StopBits       *int           `envconfig:"STOP_BITS"`
	ConnTimeout    *time.Duration `envconfig:"CONN_TIMEOUT"`

	Dispatch      *string `envconfig:"DISPATCH"`
	Monitor       *bool   `envconfig:"MONITOR"`
	Greeting      *string `envconfig:"GREETING"`
	GreetingReply *string `envconfig:"GREETING_REPLY"`
	AutoReset     *bool   `envconfig:"AUTO_RESET"`
	Announce      *bool   `envconfig:"ANNOUNCE"`

	LoopDelay      *time.Duration `envconfig:"LOOP_DELAY"`
	ErrorBackoff   *time.Duration `envconfig:"ERROR_BACKOFF"`
	PostSendSettle *time.Duration `envconfig:"POST_SEND_SETTLE"`
	SendAttempts   *int           `envconfig:"SEND_ATTEMPTS"`

	Tunnel        *string `envconfig:"TUNNEL"`
	SSHKey        *string `envconfig:"SSH_KEY"`
	SSHPassword   *bool   `envconfig:"SSH_PASSWORD"`
	SSHAgent      *bool   `envconfig:"SSH_AGENT"`
	StrictHostKey *bool   `envconfig:"STRICT_HOSTKEY"`
	KnownHosts    *string `envconfig:"KNOWN_HOSTS"`

	MetricsListen *string `envconfig:"METRICS_LISTEN"`
	Verbose       *int    `envconfig:"VERBOSE"`
}

// LoadFromEnv overlays LINKTERM_* environment variables onto cfg.  This
// should be called BEFORE CLI flag parsing so that flags take
// precedence.  A variable that is set but unparsable is an error.
func LoadFromEnv(cfg *Config) error {
	var o envOverlay
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	setString(&cfg.Device, o.Device)
	setString(&cfg.FallbackDevice, o.FallbackDevice)
	setInt(&cfg.Baud, o.Baud)
	setInt(&cfg.DataBits, o.DataBits)
	setInt(&cfg.StopBits, o.StopBits)
	setDuration(&cfg.ConnTimeout, o.ConnTimeout)

	if o.Dispatch != nil {
		m, err := ParseDispatchMode(*o.Dispatch)
		if err != nil {
			return fmt.Errorf("environment: %s_DISPATCH: %w", EnvPrefix, err)
		}
		cfg.Dispatch = m
	}
	setBool(&cfg.Monitor, o.Monitor)
	setString(&cfg.Greeting, o.Greeting)
	setString(&cfg.GreetingReply, o.GreetingReply)
	setBool(&cfg.AutoReset, o.AutoReset)
	setBool(&cfg.Announce, o.Announce)

	setDuration(&cfg.Timing.LoopDelay, o.LoopDelay)
	setDuration(&cfg.Timing.ErrorBackoff, o.ErrorBackoff)
	setDuration(&cfg.Timing.PostSendSettle, o.PostSendSettle)
	setInt(&cfg.Timing.MaxSendAttempts, o.SendAttempts)

	setString(&cfg.TunnelSpec, o.Tunnel)
	setString(&cfg.SSHKeyPath, o.SSHKey)
	setBool(&cfg.SSHPassword, o.SSHPassword)
	setBool(&cfg.UseSSHAgent, o.SSHAgent)
	setBool(&cfg.StrictHostKey, o.StrictHostKey)
	setString(&cfg.KnownHostsPath, o.KnownHosts)

	setString(&cfg.MetricsListen, o.MetricsListen)
	setInt(&cfg.Verbose, o.Verbose)
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
