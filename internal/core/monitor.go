package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"linkterm/config"
	"linkterm/internal/device"
	"linkterm/internal/link"
	"linkterm/internal/metrics"
	"linkterm/internal/transport"
	"linkterm/util"
)

// MonitorMode is a receive-only listener.  It prints every complete
// line the link delivers with a timestamp, as text when it is valid
// UTF-8 and as hex otherwise, and flushes a partial line once the link
// goes quiet.
type MonitorMode struct {
	Opener  device.Opener
	Dialer  transport.Dialer // closed when Run returns; may be nil
	Link    link.Options
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// Run listens until ctx is cancelled.
func (m *MonitorMode) Run(ctx context.Context) error {
	if m.Dialer != nil {
		defer m.Dialer.Close()
	}

	shim := link.New(m.Opener, m.Link)
	if err := shim.Open(ctx); err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	defer shim.Close()
	m.Logger.Info("listening on %s (%s), interrupt to stop", shim.Unit(), shim.Params())

	clock := m.Link.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	p := &linePrinter{w: m.stdout(), clock: clock}

	recv := m.Link.RecvBufSize
	if recv <= 0 {
		recv = util.DefaultBufSize
	}
	delay := m.Link.Timing.LoopDelay
	if delay <= 0 {
		delay = config.DefaultLoopDelay
	}
	for {
		data, err := shim.PollReceive(recv)
		if err != nil {
			m.Logger.Warn("receive: %v", err)
		}
		if len(data) > 0 {
			p.feed(data)
		} else {
			p.flush()
		}
		if err := clock.Sleep(ctx, delay); err != nil {
			p.flush()
			m.Logger.Verbose("monitor stopped: %d bytes received", m.Metrics.TotalBytesIn())
			return nil
		}
	}
}

func (m *MonitorMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// linePrinter splits received bytes at LF and prints each line.
type linePrinter struct {
	w     io.Writer
	clock util.Clock
	buf   []byte
}

func (p *linePrinter) feed(data []byte) {
	p.buf = append(p.buf, data...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return
		}
		p.print("Text", "Binary", p.buf[:i])
		p.buf = p.buf[i+1:]
	}
}

// flush prints whatever is left as a partial line.
func (p *linePrinter) flush() {
	if len(p.buf) == 0 {
		return
	}
	p.print("Partial", "Partial binary", p.buf)
	p.buf = p.buf[:0]
}

func (p *linePrinter) print(textLabel, binLabel string, line []byte) {
	ts := p.clock.Now().Format("15:04:05.000")
	if utf8.Valid(line) {
		fmt.Fprintf(p.w, "[%s] %s: %s\n", ts, textLabel, strings.TrimSpace(string(line)))
		return
	}
	fmt.Fprintf(p.w, "[%s] %s: % X\n", ts, binLabel, line)
}
