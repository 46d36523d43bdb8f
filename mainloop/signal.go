package mainloop

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rk-labs/pulse/internal/log"
)

var (
	ErrSignalInit    = errors.New("mainloop: signal support already initialized")
	ErrNoSignalInit  = errors.New("mainloop: signal support not initialized")
	ErrSignalHandled = errors.New("mainloop: signal already has a handler")
)

// A SignalFunc is called on the loop goroutine when sig is received.
type SignalFunc func(s *Signal, sig os.Signal)

// A Signal is a handler registered with NewSignal.
type Signal struct {
	l   *Loop
	sig os.Signal
	fn  SignalFunc
}

type signalSource struct {
	ch       chan os.Signal
	done     chan struct{}
	handlers map[os.Signal]*Signal
}

// SignalInit enables signal handling on the loop.
func (l *Loop) SignalInit() error {
	l.mu.Lock()
	freed := l.freed
	l.mu.Unlock()
	if freed {
		return ErrFreed
	}
	if l.signals != nil {
		return ErrSignalInit
	}
	src := &signalSource{
		ch:       make(chan os.Signal, 4),
		done:     make(chan struct{}),
		handlers: make(map[os.Signal]*Signal),
	}
	l.signals = src
	go src.forward(l)
	return nil
}

func (src *signalSource) forward(l *Loop) {
	for {
		select {
		case sig := <-src.ch:
			l.Defer(func() { l.dispatchSignal(sig) })
		case <-src.done:
			return
		}
	}
}

func (l *Loop) dispatchSignal(sig os.Signal) {
	if l.signals == nil {
		return
	}
	s, ok := l.signals.handlers[sig]
	if !ok {
		return
	}
	log.Debug("mainloop: signal", "signal", Name(sig))
	s.fn(s, sig)
}

// SignalDone disables signal handling. Handlers that were not freed stop
// receiving signals, and those signals get their default behavior back.
func (l *Loop) SignalDone() {
	src := l.signals
	if src == nil {
		return
	}
	signal.Stop(src.ch)
	close(src.done)
	l.signals = nil
}

// NewSignal registers fn to be called for sig. SignalInit must have been called.
func (l *Loop) NewSignal(sig os.Signal, fn SignalFunc) (*Signal, error) {
	if l.signals == nil {
		return nil, ErrNoSignalInit
	}
	if fn == nil {
		return nil, errors.New("mainloop: nil signal handler")
	}
	if _, ok := l.signals.handlers[sig]; ok {
		return nil, ErrSignalHandled
	}
	s := &Signal{l: l, sig: sig, fn: fn}
	l.signals.handlers[sig] = s
	signal.Notify(l.signals.ch, sig)
	return s, nil
}

// Loop returns the loop the handler is registered with.
func (s *Signal) Loop() *Loop { return s.l }

// Signal returns the signal the handler was registered for.
func (s *Signal) Signal() os.Signal { return s.sig }

// Free unregisters the handler; the signal gets its default behavior back.
func (s *Signal) Free() {
	src := s.l.signals
	if src == nil || src.handlers[s.sig] != s {
		return
	}
	delete(src.handlers, s.sig)
	signal.Reset(s.sig)
}

// Number returns the signal number, or 0 for signals that are not
// operating system signals.
func Number(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}

// Name returns the conventional name of sig, e.g. "SIGINT".
func Name(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}
	return sig.String()
}
