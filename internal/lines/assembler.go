// Package lines turns raw bytes from the keyboard or the link into
// discrete logical lines.
package lines

import "bytes"

// Control bytes the assembler reacts to.
const (
	BS  = 0x08
	DEL = 0x7f
	ESC = 0x1b
	CR  = '\r'
	LF  = '\n'
)

// Source tells the assembler where its bytes come from.  Only the
// keyboard can cancel the session with ESC.
type Source int

const (
	Keyboard Source = iota
	Link
)

func (s Source) String() string {
	if s == Keyboard {
		return "keyboard"
	}
	return "link"
}

// Kind classifies the effect of one fed byte.
type Kind int

const (
	None      Kind = iota // ignored control byte, or LF completing a CRLF
	Appended              // printable byte stored
	Erased                // last stored byte removed
	Completed             // line terminator seen; Event.Line holds the line
	Cancel                // ESC from the keyboard
	Dropped               // printable byte discarded, buffer full
)

// Event is the outcome of Feed.
type Event struct {
	Kind Kind
	Line string // set for Completed
	Byte byte   // the byte fed
}

// Assembler is a bounded line buffer.  With capacity C it retains at
// most C-1 characters.
type Assembler struct {
	src    Source
	buf    []byte
	limit  int
	lastCR bool
}

// NewAssembler returns an empty assembler for src.  Capacities below 2
// are raised to 2 so at least one character fits.
func NewAssembler(src Source, capacity int) *Assembler {
	if capacity < 2 {
		capacity = 2
	}
	return &Assembler{
		src:   src,
		buf:   make([]byte, 0, capacity-1),
		limit: capacity - 1,
	}
}

// Feed consumes one byte.
func (a *Assembler) Feed(b byte) Event {
	ev := Event{Byte: b}

	if b == LF && a.lastCR {
		a.lastCR = false
		return ev
	}
	a.lastCR = b == CR

	switch {
	case b == CR || b == LF:
		ev.Kind = Completed
		ev.Line = string(a.buf)
		a.buf = a.buf[:0]
	case b == BS || b == DEL:
		if len(a.buf) > 0 {
			a.buf = a.buf[:len(a.buf)-1]
			ev.Kind = Erased
		}
	case b == ESC:
		if a.src == Keyboard {
			ev.Kind = Cancel
		}
	case b >= 32 && b <= 126:
		if len(a.buf) < a.limit {
			a.buf = append(a.buf, b)
			ev.Kind = Appended
		} else {
			ev.Kind = Dropped
		}
	}
	return ev
}

// Pending returns the line typed so far.
func (a *Assembler) Pending() string { return string(a.buf) }

// Len returns the number of retained characters.
func (a *Assembler) Len() int { return len(a.buf) }

// Reset discards the partial line.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.lastCR = false
}

// ── Greeting detection ───────────────────────────────────────────────

// GreetingDetector counts occurrences of a literal in the raw received
// stream.  Chunk boundaries do not matter: a literal split across two
// reads counts once.
type GreetingDetector struct {
	literal []byte
	tail    []byte
}

// NewGreetingDetector returns a detector for literal.  An empty literal
// never matches.
func NewGreetingDetector(literal string) *GreetingDetector {
	return &GreetingDetector{literal: []byte(literal)}
}

// Scan returns how many occurrences complete inside chunk.
func (g *GreetingDetector) Scan(chunk []byte) int {
	n := len(g.literal)
	if n == 0 || len(chunk) == 0 {
		return 0
	}
	data := append(g.tail, chunk...)

	count, end := 0, 0
	for {
		i := bytes.Index(data[end:], g.literal)
		if i < 0 {
			break
		}
		count++
		end += i + n
	}

	// Keep only bytes that could start a future match: at most n-1 and
	// none from a match already counted.
	keep := len(data) - (n - 1)
	if keep < end {
		keep = end
	}
	if keep < 0 {
		keep = 0
	}
	g.tail = append(g.tail[:0:0], data[keep:]...)
	return count
}

// Reset forgets any partial match.
func (g *GreetingDetector) Reset() { g.tail = nil }
