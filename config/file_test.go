package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkterm.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_Overlay(t *testing.T) {
	path := writeConfig(t, `
device = "/dev/ttyUSB0"
fallback_device = "/dev/ttyUSB1"
baud = 19200
dispatch = "keyboard"
announce = false
greeting = "Hi there"

[timing]
loop_delay = "20ms"
sub_polls = 5
`)
	cfg := Default()
	if err := LoadFile(path, cfg); err != nil {
		t.Fatal(err)
	}

	if cfg.Device != "/dev/ttyUSB0" || cfg.FallbackDevice != "/dev/ttyUSB1" {
		t.Errorf("units = %q, %q", cfg.Device, cfg.FallbackDevice)
	}
	if cfg.Baud != 19200 {
		t.Errorf("Baud = %d", cfg.Baud)
	}
	if cfg.Dispatch != DispatchKeyboard {
		t.Errorf("Dispatch = %q", cfg.Dispatch)
	}
	if cfg.Announce {
		t.Error("announce = false not applied")
	}
	if cfg.Greeting != "Hi there" {
		t.Errorf("Greeting = %q", cfg.Greeting)
	}
	if cfg.Timing.LoopDelay != 20*time.Millisecond || cfg.Timing.SubPolls != 5 {
		t.Errorf("timing = %+v", cfg.Timing)
	}
}

func TestLoadFile_AbsentKeysKeepDefaults(t *testing.T) {
	path := writeConfig(t, `device = "pty"`)
	cfg := Default()
	if err := LoadFile(path, cfg); err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Baud != want.Baud || cfg.StopBits != want.StopBits || !cfg.Announce {
		t.Errorf("absent keys overrode defaults: %+v", cfg)
	}
	if cfg.Timing != want.Timing {
		t.Errorf("timing changed: %+v", cfg.Timing)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{"unknown key", `baudrate = 9600`, "unknown keys"},
		{"bad duration", "[timing]\nloop_delay = \"soon\"", "timing.loop_delay"},
		{"bad dispatch", `dispatch = "both"`, "unknown dispatch mode"},
		{"syntax", `device = `, "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LoadFile(writeConfig(t, tt.body), Default())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"), Default()); err == nil {
		t.Error("expected error for a missing file")
	}
}
