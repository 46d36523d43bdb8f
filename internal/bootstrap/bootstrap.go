// Package bootstrap connects to a PulseAudio server, or fails without
// leaking anything it acquired on the way.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rk-labs/pulse"
	"github.com/rk-labs/pulse/internal/log"
	"github.com/rk-labs/pulse/mainloop"
)

// DefaultName is the application name reported to the server.
const DefaultName = "rk-pa-test"

// Kinds of setup failures, matched with errors.Is.
var (
	ErrResource = errors.New("resource creation failed")
	ErrConnect  = errors.New("connect request rejected")
	ErrProtocol = errors.New("protocol failure")
)

// A StepError names the setup step that failed.
type StepError struct {
	Step string
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Step
	}
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// The steps are reached through these so tests can make them fail.
var (
	newLoop    = func() (*mainloop.Loop, error) { return mainloop.New(), nil }
	signalInit = (*mainloop.Loop).SignalInit
	newSignal  = (*mainloop.Loop).NewSignal
	newContext = pulse.NewContext
	connect    = (*pulse.Context).Connect

	freeLoop     = (*mainloop.Loop).Free
	signalDone   = (*mainloop.Loop).SignalDone
	freeSignal   = (*mainloop.Signal).Free
	unrefContext = (*pulse.Context).Unref
)

type config struct {
	server string
	name   string
	diag   io.Writer
}

// An Option configures New.
type Option func(*config)

// WithServer connects to server instead of the default server.
func WithServer(server string) Option {
	return func(c *config) { c.server = server }
}

// WithName sets the application name. The default is DefaultName.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithDiagnostics sets where the shutdown notice is printed.
// The default is standard error.
func WithDiagnostics(w io.Writer) Option {
	return func(c *config) { c.diag = w }
}

// PA is a loop with SIGTERM and SIGINT handlers and a ready context.
type PA struct {
	loop  *mainloop.Loop
	ctx   *pulse.Context
	state pulse.ContextState
	diag  io.Writer
	owned guards
}

// New creates the loop, registers the signal handlers, creates a context
// and polls the loop until the context is ready. It does not time out.
//
// If any step fails, everything acquired before it is released, last
// acquired first, and a *StepError is returned.
func New(opts ...Option) (_ *PA, err error) {
	cfg := config{name: DefaultName, diag: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}

	var g guards
	defer func() {
		if err != nil {
			g.release()
		}
	}()

	l, err := newLoop()
	if err != nil {
		return nil, &StepError{"pa_mainloop_new failed", ErrResource, err}
	}
	g.push("mainloop", func() { freeLoop(l) })

	if err := signalInit(l); err != nil {
		return nil, &StepError{"pa_signal_init failed", ErrResource, err}
	}
	g.push("signal support", func() { signalDone(l) })

	pa := &PA{loop: l, diag: cfg.diag}

	term, err := newSignal(l, unix.SIGTERM, pa.onSignal)
	if err != nil {
		return nil, &StepError{"pa_signal_new(SIGTERM) failed", ErrResource, err}
	}
	g.push("SIGTERM handler", func() { freeSignal(term) })

	intr, err := newSignal(l, unix.SIGINT, pa.onSignal)
	if err != nil {
		return nil, &StepError{"pa_signal_new(SIGINT) failed", ErrResource, err}
	}
	g.push("SIGINT handler", func() { freeSignal(intr) })

	ctx, err := newContext(l, cfg.name)
	if err != nil {
		return nil, &StepError{"pa_context_new failed", ErrResource, err}
	}
	g.push("context", func() { unrefContext(ctx) })
	pa.ctx = ctx

	// The callback runs inside Iterate, so the loop below always sees
	// the latest state.
	ctx.SetStateCallback(func(c *pulse.Context) { pa.state = c.State() })

	if err := connect(ctx, cfg.server); err != nil {
		return nil, &StepError{"pa_context_connect failed", ErrConnect, err}
	}

	for pa.state != pulse.ContextReady {
		if _, err := l.Iterate(false); err != nil {
			return nil, &StepError{"error in main loop", ErrProtocol, err}
		}
		if pa.state.Final() {
			return nil, &StepError{"failed to connect to pulseaudio server", ErrProtocol, ctx.Err()}
		}
	}

	pa.owned = g.relieve()
	return pa, nil
}

func (pa *PA) onSignal(s *mainloop.Signal, sig os.Signal) {
	n := mainloop.Number(sig)
	fmt.Fprintf(pa.diag, "\npa-test: signal %d; exiting...\n", n)
	s.Loop().Quit(128 + n)
}

// Context returns the ready context.
func (pa *PA) Context() *pulse.Context { return pa.ctx }

func (pa *PA) Loop() *mainloop.Loop { return pa.loop }

// Run runs the loop until it is asked to quit and returns the quit code:
// 128 plus the signal number after SIGTERM or SIGINT.
func (pa *PA) Run() (int, error) {
	return pa.loop.Run()
}

// Close releases the context, the signal handlers and the loop.
func (pa *PA) Close() {
	log.Debug("bootstrap: closing")
	pa.owned.release()
}
