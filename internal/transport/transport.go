// Package transport opens the byte streams that network device units
// run over: a plain TCP connection to a serial server, or the same
// connection carried through an SSH tunnel.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections to serial servers.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources such as an SSH session.
	// Stateless dialers return nil.
	Close() error
}
