//go:build linux

package device

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	ncerr "linkterm/internal/errors"
)

// fdDevice drives a terminal file descriptor with termios ioctls.
// It backs both real serial lines and pty masters.
type fdDevice struct {
	mu   sync.Mutex
	f    *os.File
	fd   int
	name string
	// termFD receives the line settings.  For a tty it is fd; for a
	// pty it is the slave side.
	termFD int
	extra  func() error // released on Close
}

func openTTY(path string) (Device, error) {
	// O_NONBLOCK so the open does not wait for carrier detect.
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())
	if _, err := unix.IoctlGetTermios(fd, unix.TCGETS); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s is not a terminal: %w", path, err)
	}
	return &fdDevice{f: f, fd: fd, name: path, termFD: fd}, nil
}

// Configure sets a raw 8N1-style line with no flow control and
// non-blocking reads (VMIN=0, VTIME=0).
func (d *fdDevice) Configure(p Params) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	speed, ok := baudRates[p.Baud]
	if !ok {
		return &ncerr.ConfigError{Field: "baud", Value: p.Baud, Message: "rate not supported by termios"}
	}
	size, ok := charSizes[p.DataBits]
	if !ok {
		return &ncerr.ConfigError{Field: "data-bits", Value: p.DataBits, Message: "must be 5..8"}
	}

	t, err := unix.IoctlGetTermios(d.termFD, unix.TCGETS)
	if err != nil {
		return &ncerr.ConfigError{Field: "device", Value: d.name, Message: "reading line settings: " + err.Error()}
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= size | unix.CREAD | unix.CLOCAL | speed
	if p.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(d.termFD, unix.TCSETS, t); err != nil {
		return &ncerr.ConfigError{
			Field:   "device",
			Value:   d.name,
			Message: fmt.Sprintf("line refused %s: %v", p, err),
		}
	}
	return nil
}

func (d *fdDevice) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

// QueryAvailable asks the driver how many bytes wait in the input queue.
func (d *fdDevice) QueryAvailable() (int, error) {
	return unix.IoctlGetInt(d.fd, unix.TIOCINQ)
}

func (d *fdDevice) Read(p []byte) (int, error) {
	return d.f.Read(p)
}

// Clear flushes both the input and output queues.
func (d *fdDevice) Clear() error {
	return unix.IoctlSetInt(d.fd, unix.TCFLSH, unix.TCIOFLUSH)
}

func (d *fdDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.f.Close()
	if d.extra != nil {
		if xerr := d.extra(); err == nil {
			err = xerr
		}
		d.extra = nil
	}
	return err
}

var baudRates = map[int]uint32{
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

var charSizes = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}
