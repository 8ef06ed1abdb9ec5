package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkterm/config"
	"linkterm/internal/console"
	"linkterm/internal/device"
	"linkterm/internal/device/devicetest"
	ncerr "linkterm/internal/errors"
	"linkterm/internal/link"
	"linkterm/internal/metrics"
	"linkterm/internal/session"
	"linkterm/util"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// stopAfter cancels the run once n sleeps have been requested.
type stopAfter struct {
	*util.RecordingClock
	n      int
	cancel context.CancelFunc
}

func (c *stopAfter) Sleep(ctx context.Context, d time.Duration) error {
	c.n--
	if c.n <= 0 {
		c.cancel()
	}
	return c.RecordingClock.Sleep(ctx, d)
}

func quietLogger() *util.Logger {
	l := util.NewLogger(0)
	l.SetOutput(&bytes.Buffer{})
	return l
}

func linkOptions(clock util.Clock, m *metrics.Collector) link.Options {
	return link.Options{
		Units:   []string{"unit0", "unit1"},
		Params:  device.Params{Baud: 9600, DataBits: 8, StopBits: 1},
		Timing:  config.DefaultTiming(),
		Clock:   clock,
		Logger:  quietLogger(),
		Metrics: m,
	}
}

// ── InteractiveMode ──────────────────────────────────────────────────

func TestInteractiveMode_RunsSessionAndReleases(t *testing.T) {
	opener := devicetest.NewOpener()
	clock := util.NewRecordingClock(epoch)
	m := metrics.New()
	kb := console.NewScript("", "exit\r")
	var screen bytes.Buffer

	mode := &InteractiveMode{
		Opener: opener,
		Link:   linkOptions(clock, m),
		Session: session.Options{
			Dispatch: config.DispatchLink,
			Announce: true,
			Clock:    clock,
			Logger:   quietLogger(),
			Metrics:  m,
		},
		Logger:   quietLogger(),
		Metrics:  m,
		Stdout:   &screen,
		Keyboard: kb,
	}
	require.NoError(t, mode.Run(context.Background()))

	dev := opener.Devices["unit0"]
	require.NotNil(t, dev)
	assert.True(t, strings.HasPrefix(dev.Written(), session.ReadyNotice))
	assert.True(t, strings.HasSuffix(dev.Written(), session.ShutdownNotice))
	assert.True(t, dev.Closed(), "link must be closed on return")
	assert.True(t, kb.Closed(), "keyboard must be closed on return")
	assert.Contains(t, screen.String(), "linkterm on unit0")
	assert.Equal(t, config.DefaultPostInitSettle, clock.Sleeps()[0])
}

func TestInteractiveMode_FallsBackToSecondUnit(t *testing.T) {
	opener := devicetest.NewOpener()
	opener.Errs["unit0"] = os.ErrNotExist
	clock := util.NewRecordingClock(epoch)

	mode := &InteractiveMode{
		Opener:   opener,
		Link:     linkOptions(clock, nil),
		Session:  session.Options{Clock: clock, Logger: quietLogger()},
		Logger:   quietLogger(),
		Stdout:   &bytes.Buffer{},
		Keyboard: console.NewScript("quit\r"),
	}
	require.NoError(t, mode.Run(context.Background()))
	assert.Equal(t, []string{"unit0", "unit1"}, opener.Opened())
	assert.True(t, opener.Devices["unit1"].Closed())
}

func TestInteractiveMode_OpenFailure(t *testing.T) {
	opener := devicetest.NewOpener()
	opener.Errs["unit0"] = os.ErrNotExist
	opener.Errs["unit1"] = os.ErrPermission
	kb := console.NewScript("exit\r")

	mode := &InteractiveMode{
		Opener:   opener,
		Link:     linkOptions(util.NewRecordingClock(epoch), nil),
		Logger:   quietLogger(),
		Keyboard: kb,
	}
	err := mode.Run(context.Background())

	var oe *ncerr.OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, []string{"unit0", "unit1"}, oe.Units)
	assert.False(t, kb.Closed(), "keyboard is never acquired when the link fails")
}

func TestInteractiveMode_ConfigureRefused(t *testing.T) {
	opener := devicetest.NewOpener()
	refused := &ncerr.ConfigError{Field: "baud", Value: 9600, Message: "refused by device"}
	opener.Devices["unit0"] = &devicetest.Fake{ConfigureErr: refused}

	mode := &InteractiveMode{
		Opener:   opener,
		Link:     linkOptions(util.NewRecordingClock(epoch), nil),
		Logger:   quietLogger(),
		Keyboard: console.NewScript("exit\r"),
	}
	err := mode.Run(context.Background())
	var ce *ncerr.ConfigError
	assert.True(t, errors.As(err, &ce), "got %v", err)
	assert.True(t, opener.Devices["unit0"].Closed())
}

// ── MonitorMode ──────────────────────────────────────────────────────

// feedOnFirstSleep queues inbound bytes once the open settle starts,
// after the open has cleared the device.
type feedOnFirstSleep struct {
	*stopAfter
	feed func()
	done bool
}

func (c *feedOnFirstSleep) Sleep(ctx context.Context, d time.Duration) error {
	if !c.done {
		c.done = true
		c.feed()
	}
	return c.stopAfter.Sleep(ctx, d)
}

func TestMonitorMode_PrintsLines(t *testing.T) {
	opener := devicetest.NewOpener()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// settle, poll with data, poll empty (flush), poll empty, stop
	clock := &feedOnFirstSleep{
		stopAfter: &stopAfter{RecordingClock: util.NewRecordingClock(epoch), n: 4, cancel: cancel},
		feed:      func() { opener.Devices["unit0"].Feed([]byte("hello\r\n\xff\xfe\nwor")) },
	}
	var out bytes.Buffer
	m := metrics.New()

	mode := &MonitorMode{
		Opener:  opener,
		Link:    linkOptions(clock, m),
		Logger:  quietLogger(),
		Metrics: m,
		Stdout:  &out,
	}
	require.NoError(t, mode.Run(ctx))

	want := "[00:00:00.500] Text: hello\n" +
		"[00:00:00.500] Binary: FF FE\n" +
		"[00:00:00.540] Partial: wor\n"
	assert.Equal(t, want, out.String())
	assert.True(t, opener.Devices["unit0"].Closed())
	assert.Equal(t, int64(13), m.TotalBytesIn())
}

func TestMonitorMode_OpenFailure(t *testing.T) {
	opener := devicetest.NewOpener()
	opener.Errs["unit0"] = os.ErrNotExist
	opener.Errs["unit1"] = os.ErrNotExist

	mode := &MonitorMode{
		Opener: opener,
		Link:   linkOptions(util.NewRecordingClock(epoch), nil),
		Logger: quietLogger(),
	}
	err := mode.Run(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLinePrinter_Flush(t *testing.T) {
	var out bytes.Buffer
	p := &linePrinter{w: &out, clock: util.NewRecordingClock(epoch)}

	p.feed([]byte("abc"))
	p.feed([]byte("def\nx\x80"))
	p.flush()
	p.flush()

	want := "[00:00:00.000] Text: abcdef\n" +
		"[00:00:00.000] Partial binary: 78 80\n"
	assert.Equal(t, want, out.String())
}
