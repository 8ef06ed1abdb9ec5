package link

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkterm/config"
	"linkterm/internal/device"
	"linkterm/internal/device/devicetest"
	ncerr "linkterm/internal/errors"
	"linkterm/internal/metrics"
	"linkterm/util"
)

const (
	ms200 = 200 * time.Millisecond
	ms100 = 100 * time.Millisecond
)

type fixture struct {
	shim    *Shim
	opener  *devicetest.Opener
	clock   *util.RecordingClock
	metrics *metrics.Collector
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		opener:  devicetest.NewOpener(),
		clock:   util.NewRecordingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		metrics: metrics.New(),
	}
	opts := Options{
		Units:   []string{"unit0", "unit1"},
		Params:  device.Params{Baud: 9600, DataBits: 8, StopBits: 1},
		Timing:  config.DefaultTiming(),
		Clock:   f.clock,
		Metrics: f.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.shim = New(f.opener, opts)
	return f
}

// open opens the shim and forgets the sleeps it caused.
func (f *fixture) open(t *testing.T) *devicetest.Fake {
	t.Helper()
	require.NoError(t, f.shim.Open(context.Background()))
	dev := f.opener.Device(f.shim.Unit())
	f.clock.ResetSleeps()
	return dev
}

// ── Open ─────────────────────────────────────────────────────────────

func TestOpen_ConfiguresClearsAndSettles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.shim.Open(context.Background()))

	dev := f.opener.Device("unit0")
	assert.Equal(t, Open, f.shim.State())
	assert.Equal(t, "unit0", f.shim.Unit())
	assert.Equal(t, device.Params{Baud: 9600, DataBits: 8, StopBits: 1}, dev.Params())
	assert.Equal(t, 1, dev.Clears())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, f.clock.Sleeps())
	assert.True(t, f.metrics.IsLinkOpen())
}

func TestOpen_FallsBackToSecondUnit(t *testing.T) {
	f := newFixture(t)
	f.opener.SetErr("unit0", os.ErrNotExist)

	require.NoError(t, f.shim.Open(context.Background()))
	assert.Equal(t, "unit1", f.shim.Unit())
	assert.Equal(t, []string{"unit0", "unit1"}, f.opener.Opened())
}

func TestOpen_AllUnitsFail(t *testing.T) {
	f := newFixture(t)
	f.opener.SetErr("unit0", os.ErrNotExist)
	f.opener.SetErr("unit1", os.ErrPermission)

	err := f.shim.Open(context.Background())
	var oe *ncerr.OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, Closed, f.shim.State())
}

func TestOpen_ConfigurationRefused(t *testing.T) {
	f := newFixture(t)
	dev := f.opener.Device("unit0")
	dev.ConfigureErr = &ncerr.ConfigError{Field: "baud", Value: 9600, Message: "refused"}

	err := f.shim.Open(context.Background())
	var ce *ncerr.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Closed, f.shim.State())
	assert.True(t, dev.Closed(), "a refused device is released")
}

func TestOpen_Twice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.shim.Open(context.Background()))
	require.NoError(t, f.shim.Open(context.Background()))
	assert.Len(t, f.opener.Opened(), 1)
}

// ── SendReliable ─────────────────────────────────────────────────────

func TestSendReliable_Attempts(t *testing.T) {
	eio := syscall.EIO
	tests := []struct {
		name       string
		script     []devicetest.WriteResult
		wantErr    bool
		attempts   int
		clears     int
		wantSleeps []time.Duration
	}{
		{
			name:       "first try",
			attempts:   1,
			wantSleeps: []time.Duration{ms100},
		},
		{
			name:       "second try",
			script:     []devicetest.WriteResult{devicetest.Fail(eio)},
			attempts:   2,
			clears:     1,
			wantSleeps: []time.Duration{ms200, ms100},
		},
		{
			name:       "third try after a short write",
			script:     []devicetest.WriteResult{devicetest.Fail(eio), devicetest.Short(2)},
			attempts:   3,
			clears:     2,
			wantSleeps: []time.Duration{ms200, ms200, ms100},
		},
		{
			name: "exhausted",
			script: []devicetest.WriteResult{
				devicetest.Fail(eio), devicetest.Fail(eio), devicetest.Fail(eio),
			},
			wantErr:    true,
			attempts:   3,
			clears:     3,
			wantSleeps: []time.Duration{ms200, ms200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			dev := f.open(t)
			clearsBefore := dev.Clears()
			dev.Script(tt.script...)

			err := f.shim.SendReliable(context.Background(), []byte("PING\r\n"))
			if tt.wantErr {
				var se *ncerr.SendError
				require.ErrorAs(t, err, &se)
				assert.ErrorIs(t, err, ncerr.ErrExhaustedRetries)
				assert.ErrorIs(t, err, eio)
				assert.Equal(t, 3, se.Attempts)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, dev.Attempts(), tt.attempts)
			assert.Equal(t, tt.clears, dev.Clears()-clearsBefore)
			assert.Equal(t, tt.wantSleeps, f.clock.Sleeps())
		})
	}
}

func TestSendReliable_Metrics(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)
	dev.Script(devicetest.Fail(syscall.EIO))

	require.NoError(t, f.shim.SendReliable(context.Background(), []byte("abc")))
	assert.EqualValues(t, 3, f.metrics.TotalBytesOut())
	assert.EqualValues(t, 1, f.metrics.SendRetries())
	assert.Equal(t, "abc", dev.Written())
}

func TestSendReliable_NotOpen(t *testing.T) {
	f := newFixture(t)
	err := f.shim.SendReliable(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ncerr.ErrNotOpen)
}

func TestSendReliable_CancelledDuringBackoff(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)
	dev.Script(devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.shim.SendReliable(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, dev.Attempts(), 1, "no retry after cancellation")
}

func TestSendReliable_AlwaysFailingKeepsFullBudget(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		before := len(dev.Attempts())
		dev.Script(devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO))

		err := f.shim.SendReliable(ctx, []byte("x"))
		var se *ncerr.SendError
		require.ErrorAs(t, err, &se, "send %d", i)
		assert.ErrorIs(t, err, ncerr.ErrExhaustedRetries)
		assert.NotErrorIs(t, err, ncerr.ErrLinkWedged)
		assert.Equal(t, 3, len(dev.Attempts())-before, "send %d", i)
	}
	assert.False(t, f.shim.Wedged())
}

func TestOptionsFromConfig_WedgeDetection(t *testing.T) {
	cfg := config.Default()
	cfg.Device = "unit0"
	assert.Zero(t, OptionsFromConfig(cfg).Timing.WedgeThreshold, "off by default")

	cfg.AutoReset = true
	assert.Equal(t, config.DefaultWedgeThreshold, OptionsFromConfig(cfg).Timing.WedgeThreshold)

	cfg.Timing.WedgeThreshold = 2
	assert.Equal(t, 2, OptionsFromConfig(cfg).Timing.WedgeThreshold, "an explicit threshold wins")
}

func TestSendReliable_CancellationIsNotAWedge(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Timing.WedgeThreshold = 1 })
	dev := f.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev.Script(devicetest.Fail(syscall.EIO))
	require.ErrorIs(t, f.shim.SendReliable(ctx, []byte("x")), context.Canceled)
	assert.False(t, f.shim.Wedged())

	assert.NoError(t, f.shim.SendReliable(context.Background(), []byte("x")))
}

func TestSendReliable_WedgedLinkFailsFast(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Timing.WedgeThreshold = 2 })
	dev := f.open(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		dev.Script(devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO))
		err := f.shim.SendReliable(ctx, []byte("x"))
		require.ErrorIs(t, err, ncerr.ErrExhaustedRetries)
	}
	assert.True(t, f.shim.Wedged())

	before := len(dev.Attempts())
	err := f.shim.SendReliable(ctx, []byte("x"))
	assert.ErrorIs(t, err, ncerr.ErrLinkWedged)
	assert.Equal(t, before, len(dev.Attempts()), "a wedged link is not written")

	require.NoError(t, f.shim.Reset(ctx))
	assert.False(t, f.shim.Wedged())
	assert.NoError(t, f.shim.SendReliable(ctx, []byte("x")))
}

func TestSendReliable_WedgeCooldown(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Timing.WedgeThreshold = 1
		o.Timing.WedgeCooldown = time.Minute
	})
	dev := f.open(t)
	ctx := context.Background()

	dev.Script(devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO), devicetest.Fail(syscall.EIO))
	require.Error(t, f.shim.SendReliable(ctx, []byte("x")))
	require.ErrorIs(t, f.shim.SendReliable(ctx, []byte("x")), ncerr.ErrLinkWedged)

	f.clock.Advance(2 * time.Minute)
	assert.NoError(t, f.shim.SendReliable(ctx, []byte("x")), "a probe send goes through after the cooldown")
	assert.False(t, f.shim.Wedged())
}

// ── PollReceive ──────────────────────────────────────────────────────

func TestPollReceive_NothingAvailable(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)

	got, err := f.shim.PollReceive(64)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, dev.Reads(), "no read when nothing is buffered")
	assert.Equal(t, 1, dev.Queries())
}

func TestPollReceive_ReadsAtMostMax(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)
	dev.Feed([]byte("0123456789"))

	got, err := f.shim.PollReceive(4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))

	got, err = f.shim.PollReceive(64)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(got))
	assert.EqualValues(t, 10, f.metrics.TotalBytesIn())
}

func TestPollReceive_CappedByBuffer(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RecvBufSize = 3 })
	dev := f.open(t)
	dev.Feed([]byte("abcdef"))

	got, err := f.shim.PollReceive(1024)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestPollReceive_QueryError(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)
	dev.QueryErr = errors.New("line dropped")

	_, err := f.shim.PollReceive(8)
	assert.Error(t, err)
	assert.Zero(t, dev.Reads())
}

func TestPollReceive_NotOpen(t *testing.T) {
	f := newFixture(t)
	_, err := f.shim.PollReceive(8)
	assert.ErrorIs(t, err, ncerr.ErrNotOpen)
}

// ── Reset ────────────────────────────────────────────────────────────

func TestReset_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	ctx := context.Background()

	require.NoError(t, f.shim.Reset(ctx))
	first := f.shim.Unit()
	require.NoError(t, f.shim.Reset(ctx))

	assert.Equal(t, Open, f.shim.State())
	assert.Equal(t, first, f.shim.Unit())
	assert.Equal(t, 2, f.clock.Count(time.Second))
	assert.EqualValues(t, 2, f.metrics.Resets())

	dev := f.opener.Device(first)
	assert.Equal(t, device.Params{Baud: 9600, DataBits: 8, StopBits: 1}, dev.Params())
}

func TestReset_FromClosed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.shim.Reset(context.Background()))
	assert.Equal(t, Open, f.shim.State())
}

func TestReset_FailureLeavesClosed(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.opener.SetErr("unit0", os.ErrNotExist)
	f.opener.SetErr("unit1", os.ErrNotExist)
	ctx := context.Background()

	err := f.shim.Reset(ctx)
	var re *ncerr.ResetError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "open", re.Stage)
	assert.Equal(t, Closed, f.shim.State())
	assert.ErrorIs(t, f.shim.SendReliable(ctx, []byte("x")), ncerr.ErrNotOpen)

	f.opener.SetErr("unit1", nil)
	require.NoError(t, f.shim.Reset(ctx))
	assert.Equal(t, "unit1", f.shim.Unit())
}

func TestReset_ConfigureStage(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	f.opener.Device("unit0").ConfigureErr = errors.New("refused")
	f.opener.SetErr("unit1", os.ErrNotExist)

	err := f.shim.Reset(context.Background())
	var re *ncerr.ResetError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "configure", re.Stage)
}

// ── Probe / Close ────────────────────────────────────────────────────

func TestProbe(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)
	dev.Feed([]byte("pending"))

	require.NoError(t, f.shim.Probe())
	assert.EqualValues(t, 1, f.metrics.KeepAlives())
	assert.Zero(t, dev.Reads(), "the probe discards its result")
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	dev := f.open(t)

	require.NoError(t, f.shim.Close())
	require.NoError(t, f.shim.Close())
	assert.True(t, dev.Closed())
	assert.Equal(t, Closed, f.shim.State())
	assert.ErrorIs(t, f.shim.Probe(), ncerr.ErrNotOpen)
	assert.False(t, f.metrics.IsLinkOpen())
}

func TestConfigure(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.shim.Configure(device.Params{Baud: 19200, DataBits: 8, StopBits: 1}), ncerr.ErrNotOpen)

	dev := f.open(t)
	p := device.Params{Baud: 19200, DataBits: 8, StopBits: 2}
	require.NoError(t, f.shim.Configure(p))
	assert.Equal(t, p, dev.Params())
	assert.Equal(t, p, f.shim.Params())
	assert.False(t, f.shim.Params().FlowControl())
}
