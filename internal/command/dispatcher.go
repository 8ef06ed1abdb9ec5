// Package command implements the table-driven command dispatcher that
// answers line commands arriving over the link (or typed locally).
package command

import (
	"fmt"
	"strings"

	ncerr "linkterm/internal/errors"
	"linkterm/internal/metrics"
	"linkterm/util"
)

// State is the mutable session state shared by the loop and the
// handlers.  It has exactly one owner; nothing here is synchronised.
type State struct {
	Running      bool
	EchoEnabled  bool
	Verbose      bool
	PacketCount  uint32
	CommandCount uint32
}

// NewState returns the start-up state: running, echo on, verbose off.
func NewState() *State {
	return &State{Running: true, EchoEnabled: true}
}

// Request is what a handler sees for one dispatched line.
type Request struct {
	Token string
	Args  string // text after the first space, verbatim; "" if none
	State *State
	Table Table
}

// Handler produces the reply for one command and may mutate the state.
// The reply is sent as-is, so it carries its own CRLF terminators.
type Handler interface {
	Handle(req *Request) string
}

// HandlerFunc adapts a plain function to [Handler].
type HandlerFunc func(req *Request) string

// Handle calls f(req).
func (f HandlerFunc) Handle(req *Request) string { return f(req) }

// Entry binds a case-sensitive command name to its handler.
type Entry struct {
	Name        string
	Handler     Handler
	Description string
}

// Table is an ordered list of entries.  Order is lookup order and help
// order; the first entry with a matching name wins.
type Table []Entry

// Lookup scans t for name.
func (t Table) Lookup(name string) (Entry, bool) {
	for _, e := range t {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Names returns the command names in table order.
func (t Table) Names() []string {
	names := make([]string, len(t))
	for i, e := range t {
		names[i] = e.Name
	}
	return names
}

// SplitLine splits a line at its first space.  The space itself belongs
// to neither half.
func SplitLine(line string) (token, args string) {
	token, args, _ = strings.Cut(line, " ")
	return token, args
}

// IsCommandLine reports whether line starts with an ASCII letter, which
// is what marks a line as a command on the wire.
func IsCommandLine(line string) bool {
	if line == "" {
		return false
	}
	c := line[0]
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// UnknownReply is the reply for a token that matches no entry.
func UnknownReply(token string) string {
	return fmt.Sprintf("ERROR: Unknown command '%s'. Type HELP for available commands.\r\n", token)
}

// Dispatcher routes lines to the handlers of one table.
type Dispatcher struct {
	table Table
	state *State

	// Metrics and Logger are optional.
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// NewDispatcher returns a dispatcher over table and st.  A nil table
// selects [DefaultTable]; a nil state selects [NewState].
func NewDispatcher(table Table, st *State) *Dispatcher {
	if table == nil {
		table = DefaultTable()
	}
	if st == nil {
		st = NewState()
	}
	return &Dispatcher{table: table, state: st}
}

// Table returns the dispatcher's table.
func (d *Dispatcher) Table() Table { return d.table }

// State returns the state the handlers mutate.
func (d *Dispatcher) State() *State { return d.state }

// Dispatch runs one line and returns the reply.  Line terminators must
// already be stripped.  An unmatched token still produces a reply; the
// accompanying *errors.UnknownCommandError is informational.
func (d *Dispatcher) Dispatch(line string) (string, error) {
	d.state.CommandCount++
	token, args := SplitLine(line)

	if d.state.Verbose && d.Logger != nil {
		d.Logger.Info("processing command %q with args %q", token, args)
	}

	e, ok := d.table.Lookup(token)
	if !ok {
		d.Metrics.Command(false)
		if d.Logger != nil {
			d.Logger.Verbose("unknown command %q", token)
		}
		return UnknownReply(token), &ncerr.UnknownCommandError{Token: token}
	}

	d.Metrics.Command(true)
	return e.Handler.Handle(&Request{
		Token: token,
		Args:  args,
		State: d.state,
		Table: d.table,
	}), nil
}
