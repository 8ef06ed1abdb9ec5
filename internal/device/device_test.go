package device

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncerr "linkterm/internal/errors"
)

// stubDevice satisfies Device for opener tests.
type stubDevice struct{ unit string }

func (stubDevice) Configure(Params) error { return nil }
func (stubDevice) Write(p []byte) (int, error) { return len(p), nil }
func (stubDevice) QueryAvailable() (int, error) { return 0, nil }
func (stubDevice) Read(p []byte) (int, error) { return 0, nil }
func (stubDevice) Clear() error { return nil }
func (stubDevice) Close() error { return nil }

func scriptedOpener(fail map[string]error, opened *[]string) Opener {
	return OpenerFunc(func(_ context.Context, unit string) (Device, error) {
		*opened = append(*opened, unit)
		if err := fail[unit]; err != nil {
			return nil, err
		}
		return stubDevice{unit: unit}, nil
	})
}

func TestOpenFirst(t *testing.T) {
	tests := []struct {
		name       string
		units      []string
		fail       map[string]error
		wantUnit   string
		wantOpened []string
	}{
		{
			name:       "primary opens",
			units:      []string{"unit0", "unit1"},
			wantUnit:   "unit0",
			wantOpened: []string{"unit0"},
		},
		{
			name:       "falls back to the second unit",
			units:      []string{"unit0", "unit1"},
			fail:       map[string]error{"unit0": os.ErrNotExist},
			wantUnit:   "unit1",
			wantOpened: []string{"unit0", "unit1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opened []string
			d, unit, err := OpenFirst(context.Background(), scriptedOpener(tt.fail, &opened), tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnit, unit)
			assert.Equal(t, tt.wantUnit, d.(stubDevice).unit)
			assert.Equal(t, tt.wantOpened, opened)
		})
	}
}

func TestOpenFirst_AllFail(t *testing.T) {
	var opened []string
	fail := map[string]error{"unit0": os.ErrNotExist, "unit1": os.ErrPermission}
	_, _, err := OpenFirst(context.Background(), scriptedOpener(fail, &opened), []string{"unit0", "unit1"})

	var oe *ncerr.OpenError
	require.True(t, errors.As(err, &oe), "want *OpenError, got %T", err)
	assert.Equal(t, []string{"unit0", "unit1"}, oe.Units)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestOpenFirst_NoUnits(t *testing.T) {
	var opened []string
	_, _, err := OpenFirst(context.Background(), scriptedOpener(nil, &opened), nil)
	var oe *ncerr.OpenError
	assert.True(t, errors.As(err, &oe))
	assert.Empty(t, opened)
}

func TestOpenFirst_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var opened []string
	_, _, err := OpenFirst(ctx, scriptedOpener(nil, &opened), []string{"unit0"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, opened)
}

func TestRouter_UnknownUnit(t *testing.T) {
	r := &Router{Timeout: time.Second}
	_, err := r.Open(context.Background(), "serial0")
	assert.Error(t, err)
}

func TestRouter_BadNetworkAddress(t *testing.T) {
	r := &Router{Timeout: time.Second}
	_, err := r.Open(context.Background(), "tcp://nohost")
	assert.Error(t, err, "tcp units need an explicit port")
}

func TestParams(t *testing.T) {
	p := Params{Baud: 9600, DataBits: 8, StopBits: 1}
	assert.False(t, p.FlowControl())
	assert.Equal(t, "9600 8N1", p.String())
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
