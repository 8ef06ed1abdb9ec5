package console

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(k Keyboard) string {
	var b []byte
	for {
		c, ok := k.Poll()
		if !ok {
			return string(b)
		}
		b = append(b, c)
	}
}

func TestScript_OneChunkPerDrain(t *testing.T) {
	s := NewScript("ab", "", "c\r")
	assert.Equal(t, "ab", drain(s))
	assert.Equal(t, "", drain(s))
	assert.Equal(t, "c\r", drain(s))
	assert.Equal(t, 0, s.Remaining())
	assert.Equal(t, "", drain(s))
}

func TestScript_Close(t *testing.T) {
	s := NewScript()
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestTermKeyboard_Pipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	k, err := NewKeyboard(r)
	require.NoError(t, err)
	defer k.Close()
	assert.False(t, k.Raw(), "a pipe is not a terminal")

	_, ok := k.Poll()
	assert.False(t, ok, "nothing typed yet")

	_, err = w.Write([]byte("hi\r"))
	require.NoError(t, err)

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		if b, ok := k.Poll(); ok {
			got = append(got, b)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, "hi\r", string(got))
}

func TestTermKeyboard_EndOfInput(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	k, err := NewKeyboard(r)
	require.NoError(t, err)
	defer k.Close()
	w.Close()

	// After EOF Poll keeps returning false.
	assert.Eventually(t, func() bool {
		_, ok := k.Poll()
		return !ok
	}, time.Second, time.Millisecond)
}

func TestDisplay_RawTranslatesLoneLF(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"lone lf", "a\nb", "a\r\nb"},
		{"crlf kept", "a\r\nb", "a\r\nb"},
		{"cr kept", "a\rb", "a\rb"},
		{"double lf", "\n\n", "\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			d := NewDisplay(&buf, true)
			n, err := d.Write([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, len(tt.in), n)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestDisplay_CRLFSplitAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(&buf, true)
	d.Write([]byte("x\r"))
	d.Write([]byte("\ny"))
	assert.Equal(t, "x\r\ny", buf.String())
}

func TestDisplay_Cooked(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(&buf, false)
	d.Write([]byte("a\nb"))
	assert.Equal(t, "a\nb", buf.String())
}

func TestDisplay_Helpers(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(&buf, true)
	d.Echo('q')
	d.Erase()
	d.Newline()
	d.Notef("link %s", "up")
	assert.Equal(t, "q\b \b\r\nlink up\r\n", buf.String())
}
