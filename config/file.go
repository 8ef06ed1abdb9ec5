package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the linkterm.toml key mapping.  Durations are Go
// duration strings ("40ms", "1s").
//
//	device = "/dev/ttyUSB0"
//	fallback_device = "/dev/ttyUSB1"
//	baud = 9600
//	dispatch = "link"
//
//	[timing]
//	loop_delay = "40ms"
type fileConfig struct {
	Device         string `toml:"device"`
	FallbackDevice string `toml:"fallback_device"`
	Baud           int    `toml:"baud"`
	DataBits       int    `toml:"data_bits"`
	StopBits       int    `toml:"stop_bits"`
	ConnTimeout    string `toml:"conn_timeout"`

	Dispatch        string `toml:"dispatch"`
	Monitor         bool   `toml:"monitor"`
	Greeting        string `toml:"greeting"`
	GreetingReply   string `toml:"greeting_reply"`
	AutoReset       bool   `toml:"auto_reset"`
	Announce        bool   `toml:"announce"`
	KeyboardLineCap int    `toml:"keyboard_line_cap"`
	LinkLineCap     int    `toml:"link_line_cap"`
	RecvBufSize     int    `toml:"recv_buf_size"`

	Tunnel        string `toml:"tunnel"`
	SSHKey        string `toml:"ssh_key"`
	SSHAgent      bool   `toml:"ssh_agent"`
	StrictHostKey bool   `toml:"strict_hostkey"`
	KnownHosts    string `toml:"known_hosts"`

	MetricsListen string `toml:"metrics_listen"`
	Verbose       int    `toml:"verbose"`

	Timing fileTiming `toml:"timing"`
}

type fileTiming struct {
	MaxSendAttempts       int    `toml:"max_send_attempts"`
	PostInitSettle        string `toml:"post_init_settle"`
	PostSendSettle        string `toml:"post_send_settle"`
	ErrorBackoff          string `toml:"error_backoff"`
	PostResetSettle       string `toml:"post_reset_settle"`
	GreetingDelay         string `toml:"greeting_delay"`
	SubPollSpacing        string `toml:"sub_poll_spacing"`
	LoopDelay             string `toml:"loop_delay"`
	SubPolls              int    `toml:"sub_polls"`
	KeepAliveEvery        int    `toml:"keepalive_every"`
	GreetingCounterModulo int    `toml:"greeting_counter_modulo"`
	WedgeThreshold        int    `toml:"wedge_threshold"`
	WedgeCooldown         string `toml:"wedge_cooldown"`
}

// LoadFile overlays the TOML file at path onto cfg.  Only keys present
// in the file override; unknown keys are rejected so typos surface.
func LoadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("fallback_device") {
		cfg.FallbackDevice = strings.TrimSpace(raw.FallbackDevice)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("data_bits") {
		cfg.DataBits = raw.DataBits
	}
	if meta.IsDefined("stop_bits") {
		cfg.StopBits = raw.StopBits
	}
	if meta.IsDefined("conn_timeout") {
		if cfg.ConnTimeout, err = parseDuration("conn_timeout", raw.ConnTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("dispatch") {
		m, err := ParseDispatchMode(raw.Dispatch)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg.Dispatch = m
	}
	if meta.IsDefined("monitor") {
		cfg.Monitor = raw.Monitor
	}
	if meta.IsDefined("greeting") {
		cfg.Greeting = raw.Greeting
	}
	if meta.IsDefined("greeting_reply") {
		cfg.GreetingReply = raw.GreetingReply
	}
	if meta.IsDefined("auto_reset") {
		cfg.AutoReset = raw.AutoReset
	}
	if meta.IsDefined("announce") {
		cfg.Announce = raw.Announce
	}
	if meta.IsDefined("keyboard_line_cap") {
		cfg.KeyboardLineCap = raw.KeyboardLineCap
	}
	if meta.IsDefined("link_line_cap") {
		cfg.LinkLineCap = raw.LinkLineCap
	}
	if meta.IsDefined("recv_buf_size") {
		cfg.RecvBufSize = raw.RecvBufSize
	}
	if meta.IsDefined("tunnel") {
		cfg.TunnelSpec = strings.TrimSpace(raw.Tunnel)
	}
	if meta.IsDefined("ssh_key") {
		cfg.SSHKeyPath = raw.SSHKey
	}
	if meta.IsDefined("ssh_agent") {
		cfg.UseSSHAgent = raw.SSHAgent
	}
	if meta.IsDefined("strict_hostkey") {
		cfg.StrictHostKey = raw.StrictHostKey
	}
	if meta.IsDefined("known_hosts") {
		cfg.KnownHostsPath = raw.KnownHosts
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}

	return loadTiming(meta, raw.Timing, &cfg.Timing)
}

func loadTiming(meta toml.MetaData, raw fileTiming, t *Timing) error {
	ints := []struct {
		key string
		src int
		dst *int
	}{
		{"max_send_attempts", raw.MaxSendAttempts, &t.MaxSendAttempts},
		{"sub_polls", raw.SubPolls, &t.SubPolls},
		{"keepalive_every", raw.KeepAliveEvery, &t.KeepAliveEvery},
		{"greeting_counter_modulo", raw.GreetingCounterModulo, &t.GreetingCounterModulo},
		{"wedge_threshold", raw.WedgeThreshold, &t.WedgeThreshold},
	}
	for _, f := range ints {
		if meta.IsDefined("timing", f.key) {
			*f.dst = f.src
		}
	}

	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"post_init_settle", raw.PostInitSettle, &t.PostInitSettle},
		{"post_send_settle", raw.PostSendSettle, &t.PostSendSettle},
		{"error_backoff", raw.ErrorBackoff, &t.ErrorBackoff},
		{"post_reset_settle", raw.PostResetSettle, &t.PostResetSettle},
		{"greeting_delay", raw.GreetingDelay, &t.GreetingDelay},
		{"sub_poll_spacing", raw.SubPollSpacing, &t.SubPollSpacing},
		{"loop_delay", raw.LoopDelay, &t.LoopDelay},
		{"wedge_cooldown", raw.WedgeCooldown, &t.WedgeCooldown},
	}
	for _, f := range durations {
		if !meta.IsDefined("timing", f.key) {
			continue
		}
		d, err := parseDuration("timing."+f.key, f.src)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("config key %s: %w", key, err)
	}
	return d, nil
}
