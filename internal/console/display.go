package console

import (
	"fmt"
	"io"
	"sync"
)

// Display writes link traffic and keyboard echo to the operator.
// While the terminal is raw a lone LF does not return the carriage,
// so Display expands it to CRLF.
type Display struct {
	mu     sync.Mutex
	w      io.Writer
	raw    bool
	lastCR bool
}

// NewDisplay returns a Display writing to w.  raw enables LF → CRLF
// translation.
func NewDisplay(w io.Writer, raw bool) *Display {
	return &Display{w: w, raw: raw}
}

// Write copies p to the output, translating lone LFs when raw.
func (d *Display) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.raw {
		return d.w.Write(p)
	}
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' && !d.lastCR {
			out = append(out, '\r')
		}
		out = append(out, b)
		d.lastCR = b == '\r'
	}
	if _, err := d.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Echo shows one typed character.
func (d *Display) Echo(b byte) { d.Write([]byte{b}) }

// Erase removes the last shown character.
func (d *Display) Erase() { d.Write([]byte("\b \b")) }

// Newline ends the line being typed.
func (d *Display) Newline() { d.Write([]byte("\r\n")) }

// Notef prints a status note on its own line.
func (d *Display) Notef(format string, args ...interface{}) {
	d.Write([]byte(fmt.Sprintf(format, args...) + "\n"))
}
