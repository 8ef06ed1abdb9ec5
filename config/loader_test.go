package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Device(t *testing.T) {
	t.Setenv("LINKTERM_DEVICE", "/dev/ttyAMA0")
	t.Setenv("LINKTERM_FALLBACK_DEVICE", "/dev/ttyAMA1")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Device != "/dev/ttyAMA0" || cfg.FallbackDevice != "/dev/ttyAMA1" {
		t.Errorf("units = %q, %q", cfg.Device, cfg.FallbackDevice)
	}
}

func TestLoadFromEnv_Numbers(t *testing.T) {
	t.Setenv("LINKTERM_BAUD", "115200")
	t.Setenv("LINKTERM_SEND_ATTEMPTS", "5")
	t.Setenv("LINKTERM_LOOP_DELAY", "20ms")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Baud != 115200 {
		t.Errorf("Baud = %d, want 115200", cfg.Baud)
	}
	if cfg.Timing.MaxSendAttempts != 5 {
		t.Errorf("MaxSendAttempts = %d, want 5", cfg.Timing.MaxSendAttempts)
	}
	if cfg.Timing.LoopDelay != 20*time.Millisecond {
		t.Errorf("LoopDelay = %v, want 20ms", cfg.Timing.LoopDelay)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"LINKTERM_MONITOR", "true", func(c *Config) bool { return c.Monitor }},
		{"LINKTERM_AUTO_RESET", "1", func(c *Config) bool { return c.AutoReset }},
		{"LINKTERM_SSH_AGENT", "TRUE", func(c *Config) bool { return c.UseSSHAgent }},
		{"LINKTERM_ANNOUNCE", "false", func(c *Config) bool { return !c.Announce }},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg := Default()
			if err := LoadFromEnv(cfg); err != nil {
				t.Fatal(err)
			}
			if !tt.check(cfg) {
				t.Errorf("%s=%s not applied", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_Dispatch(t *testing.T) {
	t.Setenv("LINKTERM_DISPATCH", "Keyboard")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Dispatch != DispatchKeyboard {
		t.Errorf("Dispatch = %q", cfg.Dispatch)
	}

	t.Setenv("LINKTERM_DISPATCH", "sideways")
	if err := LoadFromEnv(Default()); err == nil {
		t.Error("expected error for unknown dispatch mode")
	}
}

func TestLoadFromEnv_InvalidNumber(t *testing.T) {
	t.Setenv("LINKTERM_BAUD", "fast")
	if err := LoadFromEnv(Default()); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromEnv_UnsetLeavesDefaults(t *testing.T) {
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Baud != want.Baud || cfg.Dispatch != want.Dispatch || cfg.Announce != want.Announce {
		t.Errorf("unset environment changed the config: %+v", cfg)
	}
	if cfg.Timing != want.Timing {
		t.Errorf("timing changed: %+v", cfg.Timing)
	}
}

func TestLoadFromEnv_Tunnel(t *testing.T) {
	t.Setenv("LINKTERM_TUNNEL", "admin@gw:2222")
	t.Setenv("LINKTERM_KNOWN_HOSTS", "/tmp/kh")
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.TunnelSpec != "admin@gw:2222" || cfg.KnownHostsPath != "/tmp/kh" {
		t.Errorf("tunnel = %q known_hosts = %q", cfg.TunnelSpec, cfg.KnownHostsPath)
	}
}
