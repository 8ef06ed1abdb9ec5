// Package console is the operator side of the terminal: a raw-mode
// keyboard that can be polled without blocking, and a display for
// link traffic.
package console

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Keyboard delivers operator keystrokes one byte at a time.
type Keyboard interface {
	// Poll returns the next pending byte, or false when nothing is
	// waiting.  It never blocks.
	Poll() (byte, bool)
	Close() error
}

// pumpDepth bounds how far typing may run ahead of the session loop.
const pumpDepth = 256

// TermKeyboard reads a terminal in raw mode.  A goroutine pumps bytes
// into a buffered channel; Poll is a non-blocking receive on it.
type TermKeyboard struct {
	f     *os.File
	fd    int
	saved *term.State
	keys  chan byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewKeyboard puts f into raw mode (when it is a terminal) and starts
// reading from it.  Call Close to restore the terminal.
func NewKeyboard(f *os.File) (*TermKeyboard, error) {
	k := &TermKeyboard{
		f:    f,
		fd:   int(f.Fd()),
		keys: make(chan byte, pumpDepth),
		done: make(chan struct{}),
	}
	if term.IsTerminal(k.fd) {
		st, err := term.MakeRaw(k.fd)
		if err != nil {
			return nil, err
		}
		k.saved = st
	}
	go k.pump(f)
	return k, nil
}

// Raw reports whether the terminal was switched to raw mode.
func (k *TermKeyboard) Raw() bool { return k.saved != nil }

func (k *TermKeyboard) pump(r io.Reader) {
	defer close(k.keys)
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			select {
			case k.keys <- b:
			case <-k.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Poll implements [Keyboard].
func (k *TermKeyboard) Poll() (byte, bool) {
	select {
	case b, ok := <-k.keys:
		return b, ok
	default:
		return 0, false
	}
}

// Close restores the terminal state.  The reader goroutine exits on
// its next keystroke or at end of input.
func (k *TermKeyboard) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.done)
		if k.saved != nil {
			err = term.Restore(k.fd, k.saved)
		}
	})
	return err
}

// ── Scripted keyboard ────────────────────────────────────────────────

// Script is a Keyboard that replays fixed input, for tests and for
// feeding canned keystrokes.  Each chunk is delivered during one
// drain: once a chunk is exhausted Poll reports false once before the
// next chunk starts.
type Script struct {
	mu     sync.Mutex
	chunks []string
	pos    int
	closed bool
}

// NewScript returns a keyboard that types chunks in order.
func NewScript(chunks ...string) *Script {
	return &Script{chunks: chunks}
}

// Poll implements [Keyboard].
func (s *Script) Poll() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return 0, false
	}
	cur := s.chunks[0]
	if s.pos >= len(cur) {
		s.chunks = s.chunks[1:]
		s.pos = 0
		return 0, false
	}
	b := cur[s.pos]
	s.pos++
	return b, true
}

// Remaining reports how many chunks have not been fully drained.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Close implements [Keyboard].
func (s *Script) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Script) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
