// Package tunnel carries network device connections through an SSH
// bastion, for serial servers that are only reachable from inside a
// lab network.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted channel that network units can be dialled
// through.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel.  Later Dials fail with
	// errors.ErrTunnelClosed.
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}
