package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"linkterm/tunnel"
	"linkterm/util"
)

// SSHDialer routes connections through an SSH tunnel.  The tunnel is
// connected on the first Dial and reconnected on a later Dial if the
// gateway connection dropped in between, so a link reset can recover
// from a bastion restart.
type SSHDialer struct {
	config *tunnel.SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	tunnel tunnel.Tunnel
}

// NewSSHDialer returns a dialer for the gateway described by cfg.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHDialer{config: cfg, logger: logger}
}

// connect returns a live tunnel, dialling the gateway when needed.
func (d *SSHDialer) connect(ctx context.Context) (tunnel.Tunnel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel != nil && d.tunnel.IsAlive() {
		return d.tunnel, nil
	}
	if d.tunnel != nil {
		d.logger.Warn("ssh tunnel %s is down, reconnecting", d.tunnel)
		d.tunnel.Close()
	}

	t := tunnel.NewSSHTunnel(d.config, d.logger)
	d.logger.Verbose("establishing ssh tunnel %s", t)
	if err := t.Connect(ctx); err != nil {
		return nil, fmt.Errorf("tunnel: %w", err)
	}
	d.tunnel = t
	return t, nil
}

// Dial connects to address through the tunnel.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, network, address)
}

// Close tears the tunnel down.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel == nil {
		return nil
	}
	err := d.tunnel.Close()
	d.tunnel = nil
	return err
}
