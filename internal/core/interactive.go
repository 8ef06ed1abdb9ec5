package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"linkterm/internal/console"
	"linkterm/internal/device"
	"linkterm/internal/link"
	"linkterm/internal/metrics"
	"linkterm/internal/session"
	"linkterm/internal/transport"
	"linkterm/util"
)

// InteractiveMode opens the link and the keyboard and runs the session
// loop until the operator leaves.
type InteractiveMode struct {
	Opener        device.Opener
	Dialer        transport.Dialer // closed when Run returns; may be nil
	Link          link.Options
	Session       session.Options
	MetricsListen string
	Logger        *util.Logger
	Metrics       *metrics.Collector

	// Stdin is switched to raw mode when Keyboard is nil.  Stdout
	// defaults to os.Stdout.
	Stdin    *os.File
	Stdout   io.Writer
	Keyboard console.Keyboard
}

// Run opens everything, runs the session and releases everything.
func (m *InteractiveMode) Run(ctx context.Context) error {
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}

	shim := link.New(m.Opener, m.Link)
	if err := shim.Open(ctx); err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	defer shim.Close()
	m.Logger.Info("link open on %s (%s)", shim.Unit(), shim.Params())

	kb, raw, err := m.keyboard()
	if err != nil {
		return fmt.Errorf("keyboard: %w", err)
	}
	defer kb.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := m.serveMetrics(ctx); err != nil {
		return err
	}

	disp := console.NewDisplay(m.stdout(), raw)
	disp.Notef("[linkterm on %s: ESC or exit/close/quit leaves, /help lists local commands]", shim.Unit())

	sess := session.New(shim, kb, disp, m.Session)
	return sess.Run(ctx)
}

func (m *InteractiveMode) keyboard() (console.Keyboard, bool, error) {
	if m.Keyboard != nil {
		return m.Keyboard, false, nil
	}
	stdin := m.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	kb, err := console.NewKeyboard(stdin)
	if err != nil {
		return nil, false, err
	}
	return kb, kb.Raw(), nil
}

func (m *InteractiveMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// serveMetrics starts the Prometheus endpoint when configured.  It
// stops when ctx is cancelled.
func (m *InteractiveMode) serveMetrics(ctx context.Context) error {
	if m.MetricsListen == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := m.Metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	go func() {
		if err := metrics.Serve(ctx, m.MetricsListen, reg); err != nil {
			m.Logger.Error("metrics endpoint %s: %v", m.MetricsListen, err)
		}
	}()
	m.Logger.Verbose("metrics on http://%s/metrics", m.MetricsListen)
	return nil
}
