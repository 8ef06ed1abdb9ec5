// Package session runs the interactive loop: it polls the keyboard and
// the link in turn, assembles lines from both, answers greetings and
// routes command lines through the dispatcher.
//
// The loop is cooperative and single-threaded.  Within one iteration
// the keyboard is always drained before the link is polled, so a
// cancel from the operator wins over pending link traffic.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"linkterm/config"
	"linkterm/internal/command"
	"linkterm/internal/console"
	ncerr "linkterm/internal/errors"
	"linkterm/internal/lines"
	"linkterm/internal/link"
	"linkterm/internal/metrics"
	"linkterm/util"
)

// Link is the part of the transport shim the loop drives.
type Link interface {
	SendReliable(ctx context.Context, b []byte) error
	PollReceive(maxBytes int) ([]byte, error)
	Probe() error
	Reset(ctx context.Context) error
	State() link.State
}

// Notices sent to the peer in link dispatch mode.
const (
	ReadyNotice    = "READY: linkterm session started\r\n"
	ShutdownNotice = "SHUTDOWN: linkterm session stopping\r\n"
)

// maxEcho bounds the payload of an "ECHO: " reply to a data line.
const maxEcho = 240

// shutdownTimeout bounds the farewell send once the session context
// is already cancelled.
const shutdownTimeout = 2 * time.Second

var exitKeywords = []string{"exit", "close", "quit"}

// IsExitKeyword reports whether line asks to end the session.
func IsExitKeyword(line string) bool {
	for _, kw := range exitKeywords {
		if strings.EqualFold(line, kw) {
			return true
		}
	}
	return false
}

// Options configures a Session.
type Options struct {
	Dispatch        config.DispatchMode
	Greeting        string
	GreetingReply   string
	AutoReset       bool
	Announce        bool
	KeyboardLineCap int
	LinkLineCap     int
	RecvBufSize     int
	Timing          config.Timing
	Table           command.Table // nil selects the default table
	Clock           util.Clock
	Logger          *util.Logger
	Metrics         *metrics.Collector
}

// OptionsFromConfig derives session options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dispatch:        cfg.Dispatch,
		Greeting:        cfg.Greeting,
		GreetingReply:   cfg.GreetingReply,
		AutoReset:       cfg.AutoReset,
		Announce:        cfg.Announce,
		KeyboardLineCap: cfg.KeyboardLineCap,
		LinkLineCap:     cfg.LinkLineCap,
		RecvBufSize:     cfg.RecvBufSize,
		Timing:          cfg.Timing,
	}
}

// Session is one operator session over one link.
type Session struct {
	id      string
	link    Link
	kb      console.Keyboard
	disp    *console.Display
	opts    Options
	clock   util.Clock
	logger  *util.Logger
	metrics *metrics.Collector

	state      *command.State
	dispatcher *command.Dispatcher
	kbLine     *lines.Assembler
	linkLine   *lines.Assembler
	greet      *lines.GreetingDetector

	iteration uint64
}

// New wires a session.  The link must already be open.
func New(l Link, kb console.Keyboard, disp *console.Display, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	if opts.Timing == (config.Timing{}) {
		opts.Timing = config.DefaultTiming()
	}
	if opts.Dispatch == "" {
		opts.Dispatch = config.DispatchLink
	}
	if opts.RecvBufSize <= 0 {
		opts.RecvBufSize = config.DefaultRecvBufSize
	}
	if opts.KeyboardLineCap <= 0 {
		opts.KeyboardLineCap = config.DefaultKeyboardLineCap
	}
	if opts.LinkLineCap <= 0 {
		opts.LinkLineCap = config.DefaultLinkLineCap
	}

	id := uuid.NewString()
	logger := opts.Logger.With("session", id[:8])

	st := command.NewState()
	d := command.NewDispatcher(opts.Table, st)
	d.Metrics = opts.Metrics
	d.Logger = logger

	return &Session{
		id:         id,
		link:       l,
		kb:         kb,
		disp:       disp,
		opts:       opts,
		clock:      opts.Clock,
		logger:     logger,
		metrics:    opts.Metrics,
		state:      st,
		dispatcher: d,
		kbLine:     lines.NewAssembler(lines.Keyboard, opts.KeyboardLineCap),
		linkLine:   lines.NewAssembler(lines.Link, opts.LinkLineCap),
		greet:      lines.NewGreetingDetector(opts.Greeting),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the session state.
func (s *Session) State() *command.State { return s.state }

// Iterations returns how many loop iterations have started.
func (s *Session) Iterations() uint64 { return s.iteration }

// Run drives the loop until the operator leaves (ESC or an exit
// keyword), a handler clears State.Running, or ctx is cancelled.
// Send failures are reported and do not end the session; Run returns
// nil on every cooperative stop.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session started (dispatch=%s)", s.opts.Dispatch)
	s.start(ctx)
	defer s.finish(ctx)

	for s.state.Running {
		s.iteration++

		if s.pollKeyboard(ctx) || s.stopped(ctx) {
			return nil
		}
		s.pollLink(ctx)
		if s.stopped(ctx) {
			return nil
		}
		if err := s.clock.Sleep(ctx, s.opts.Timing.LoopDelay); err != nil {
			return nil
		}
		if every := s.opts.Timing.KeepAliveEvery; every > 0 && s.iteration%uint64(every) == 0 {
			if err := s.link.Probe(); err != nil && !ncerr.Is(err, ncerr.ErrNotOpen) {
				s.logger.Debug("keep-alive probe: %v", err)
			}
		}
	}
	return nil
}

func (s *Session) stopped(ctx context.Context) bool {
	return !s.state.Running || ctx.Err() != nil
}

func (s *Session) start(ctx context.Context) {
	if s.opts.Dispatch == config.DispatchLink && s.opts.Announce {
		s.send(ctx, "ready notice", ReadyNotice)
		return
	}
	// A lone CR wakes the remote end.
	s.send(ctx, "wake-up", "\r")
}

func (s *Session) finish(ctx context.Context) {
	if s.opts.Dispatch == config.DispatchLink && s.opts.Announce {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		s.send(sctx, "shutdown notice", ShutdownNotice)
		cancel()
	}
	s.logger.Info("session ended after %d iterations: %d packets received, %d commands processed",
		s.iteration, s.state.PacketCount, s.state.CommandCount)
	if s.metrics != nil {
		s.logger.Verbose("final metrics: %s", s.metrics.JSON())
	}
}

// ── Keyboard ─────────────────────────────────────────────────────────

// pollKeyboard drains pending keystrokes.  It reports true when the
// operator asked to leave.
func (s *Session) pollKeyboard(ctx context.Context) bool {
	for {
		b, ok := s.kb.Poll()
		if !ok {
			return false
		}
		ev := s.kbLine.Feed(b)
		switch ev.Kind {
		case lines.Cancel:
			s.disp.Newline()
			s.logger.Info("escape pressed, leaving session")
			return true
		case lines.Appended:
			s.disp.Echo(b)
		case lines.Erased:
			s.disp.Erase()
		case lines.Completed:
			s.disp.Newline()
			if s.keyboardLine(ctx, ev.Line) {
				return true
			}
			if s.stopped(ctx) {
				return true
			}
		}
	}
}

func (s *Session) keyboardLine(ctx context.Context, line string) bool {
	if IsExitKeyword(line) {
		s.logger.Info("%q typed, leaving session", line)
		return true
	}
	if s.local(ctx, line) {
		return false
	}

	s.logger.Debug("sending keyboard line %q", line)
	s.send(ctx, "keyboard line", line+"\r\n")

	if s.opts.Dispatch == config.DispatchKeyboard && line != "" {
		reply, _ := s.dispatcher.Dispatch(line)
		s.disp.Write([]byte(reply))
		s.send(ctx, "command reply", reply)
	}
	return false
}

// local handles the operator meta-commands that never reach the link.
func (s *Session) local(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "/reset":
		s.reset(ctx)
	case "/stats":
		s.disp.Notef("[link %s, %d iterations, %d packets, %d commands, echo %v, verbose %v]",
			s.link.State(), s.iteration, s.state.PacketCount, s.state.CommandCount,
			s.state.EchoEnabled, s.state.Verbose)
		if s.metrics != nil {
			s.disp.Notef("%s", s.metrics.JSON())
		}
	case "/help":
		s.disp.Notef("[ESC or exit/close/quit leaves; /reset reopens the link; /stats shows counters]")
		if s.opts.Dispatch != config.DispatchOff {
			s.disp.Notef("[commands: %s]", strings.Join(s.dispatcher.Table().Names(), " "))
		}
	default:
		return false
	}
	return true
}

// ── Link ─────────────────────────────────────────────────────────────

// pollLink makes up to SubPolls quick receive attempts and handles the
// first one that yields data.
func (s *Session) pollLink(ctx context.Context) {
	for i := 0; i < s.opts.Timing.SubPolls; i++ {
		data, err := s.link.PollReceive(s.opts.RecvBufSize)
		if err != nil && !ncerr.Is(err, ncerr.ErrNotOpen) {
			s.logger.Warn("receive: %v", err)
			s.metrics.RecordError(err.Error())
		}
		if len(data) > 0 {
			s.received(ctx, data)
			return
		}
		if err := s.clock.Sleep(ctx, s.opts.Timing.SubPollSpacing); err != nil {
			return
		}
	}
}

func (s *Session) received(ctx context.Context, data []byte) {
	s.state.PacketCount++
	if s.state.Verbose {
		s.logger.Info("received packet #%d (%d bytes)", s.state.PacketCount, len(data))
	}
	s.disp.Write(data)

	// The receive buffer is reused by the next poll, and sends below
	// do not poll, so data stays valid through this call.
	for n := s.greet.Scan(data); n > 0; n-- {
		s.greeting(ctx)
	}

	if s.opts.Dispatch != config.DispatchLink {
		return
	}
	for _, b := range data {
		if ev := s.linkLine.Feed(b); ev.Kind == lines.Completed {
			s.linkLineDone(ctx, ev.Line)
			if s.stopped(ctx) {
				return
			}
		}
	}
}

func (s *Session) greeting(ctx context.Context) {
	s.metrics.Greeting()
	if err := s.clock.Sleep(ctx, s.opts.Timing.GreetingDelay); err != nil {
		return
	}
	counter := s.iteration
	if mod := s.opts.Timing.GreetingCounterModulo; mod > 0 {
		counter %= uint64(mod)
	}
	reply := fmt.Sprintf(s.opts.GreetingReply, counter)
	s.disp.Notef("\n[auto-response: %s]", strings.TrimRight(reply, "\r\n"))
	s.send(ctx, "greeting reply", reply)
}

func (s *Session) linkLineDone(ctx context.Context, line string) {
	if line == "" {
		return
	}
	if command.IsCommandLine(line) {
		reply, _ := s.dispatcher.Dispatch(line)
		s.send(ctx, "command reply", reply)
		return
	}
	if s.state.EchoEnabled {
		if len(line) > maxEcho {
			line = line[:maxEcho]
		}
		s.send(ctx, "echo", "ECHO: "+line+"\r\n")
	}
}

// ── Sending and recovery ─────────────────────────────────────────────

func (s *Session) send(ctx context.Context, what, payload string) {
	err := s.link.SendReliable(ctx, []byte(payload))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		s.logger.Debug("%s abandoned: %v", what, err)
	case ncerr.Is(err, ncerr.ErrNotOpen):
		s.logger.Warn("%s not sent: link is closed (type /reset to reopen)", what)
	case ncerr.Is(err, ncerr.ErrLinkWedged):
		s.logger.Error("%s not sent: %v", what, err)
		if s.opts.AutoReset {
			s.reset(ctx)
		}
	default:
		s.logger.Error("%s not sent: %v", what, err)
	}
}

func (s *Session) reset(ctx context.Context) {
	s.logger.Info("resetting link")
	s.linkLine.Reset()
	s.greet.Reset()
	if err := s.link.Reset(ctx); err != nil {
		s.logger.Error("link reset failed: %v", err)
		s.disp.Notef("[link reset failed: %v]", err)
		return
	}
	s.disp.Notef("[link reset]")
}
