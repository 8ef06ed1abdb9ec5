package device

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ziutek/telnet"

	ncerr "linkterm/internal/errors"
	"linkterm/internal/transport"
	"linkterm/util"
)

const (
	// netPollWindow is how long QueryAvailable waits for bytes already
	// in flight on the socket.
	netPollWindow = time.Millisecond
	// netWriteTimeout bounds one write to a serial server.
	netWriteTimeout = 2 * time.Second
	// netMaxPending stops a drain early when the peer streams faster
	// than the session consumes.
	netMaxPending = 64 * 1024
)

// netDevice is a serial line exported by a network serial server.  The
// server owns the physical line settings, so Configure only records
// them.  Received bytes are drained from the socket into pending.
type netDevice struct {
	mu      sync.Mutex
	conn    net.Conn
	rw      io.ReadWriter // conn, or the telnet layer on top of it
	addr    string
	params  Params
	pending []byte
	scratch []byte
	eof     error
}

func dialNet(ctx context.Context, d transport.Dialer, addr string, useTelnet bool, logger *util.Logger) (Device, error) {
	conn, err := d.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.Wrap("dial", addr, err)
	}
	nd := &netDevice{conn: conn, rw: conn, addr: addr, scratch: make([]byte, util.DefaultBufSize)}
	if useTelnet {
		tc, err := telnet.NewConn(conn)
		if err != nil {
			conn.Close()
			return nil, ncerr.Wrap("negotiate", addr, err)
		}
		nd.rw = tc
	}
	logger.Verbose("connected to serial server %s (telnet=%v)", addr, useTelnet)
	return nd, nil
}

func (d *netDevice) Configure(p Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = p
	return nil
}

func (d *netDevice) Write(p []byte) (int, error) {
	if err := d.conn.SetWriteDeadline(time.Now().Add(netWriteTimeout)); err != nil {
		return 0, ncerr.Wrap("write", d.addr, err)
	}
	n, err := d.rw.Write(p)
	if err != nil {
		return n, ncerr.Wrap("write", d.addr, err)
	}
	return n, nil
}

// QueryAvailable drains whatever the socket holds within a short window
// and reports the buffered total.
func (d *netDevice) QueryAvailable() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.drainLocked(); err != nil && len(d.pending) == 0 {
		return 0, err
	}
	return len(d.pending), nil
}

func (d *netDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		if d.eof != nil {
			return 0, d.eof
		}
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Clear drops pending input.  Output already on the wire cannot be
// recalled.
func (d *netDevice) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	if err := d.drainLocked(); err != nil {
		return err
	}
	d.pending = nil
	return nil
}

func (d *netDevice) Close() error {
	return d.conn.Close()
}

// drainLocked reads until the poll window expires.  A closed peer is
// remembered and reported once pending input is consumed.
func (d *netDevice) drainLocked() error {
	if d.eof != nil {
		return d.eof
	}
	for {
		if err := d.conn.SetReadDeadline(time.Now().Add(netPollWindow)); err != nil {
			return ncerr.Wrap("read", d.addr, err)
		}
		n, err := d.rw.Read(d.scratch)
		d.pending = append(d.pending, d.scratch[:n]...)
		if err == nil {
			if len(d.pending) >= netMaxPending {
				return nil
			}
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		d.eof = ncerr.Wrap("read", d.addr, err)
		return d.eof
	}
}
