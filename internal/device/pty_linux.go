//go:build linux

package device

import (
	"github.com/creack/pty"
	"golang.org/x/term"

	"linkterm/util"
)

// openPTY creates a pseudo-terminal pair.  linkterm drives the master;
// an emulator or a test peer opens the slave path, which is logged.
// The slave stays open here so the master never sees EIO while no peer
// is attached.
func openPTY(logger *util.Logger) (Device, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	slaveFD := int(slave.Fd())
	if _, err := term.MakeRaw(slaveFD); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	logger.Info("pty ready: attach the peer to %s", slave.Name())

	return &fdDevice{
		f:      master,
		fd:     int(master.Fd()),
		name:   slave.Name(),
		termFD: slaveFD,
		extra:  slave.Close,
	}, nil
}
