// Package mainloop implements a single-threaded event loop.
//
// Goroutines doing I/O hand their results to the loop with Defer; the
// deferred functions run on whichever goroutine calls Iterate or Run, so
// callbacks never run concurrently with each other.
package mainloop

import (
	"errors"
	"runtime"
	"sync"

	"github.com/rk-labs/pulse/internal/log"
)

var (
	// ErrQuit is returned by Iterate once Quit has been called.
	ErrQuit = errors.New("mainloop: quit requested")
	// ErrFreed is returned when a freed loop is used.
	ErrFreed = errors.New("mainloop: loop freed")
)

type Loop struct {
	mu      sync.Mutex
	pending []func()
	spare   []func()
	wake    chan struct{}
	quit    bool
	retval  int
	freed   bool

	// only used on the loop goroutine
	signals *signalSource
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Defer schedules fn to run during the next iteration.
// It is safe to call from any goroutine. Calls on a freed loop are ignored.
func (l *Loop) Defer(fn func()) {
	l.mu.Lock()
	if l.freed {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Quit asks the loop to stop after the current iteration.
// Run will return retval.
func (l *Loop) Quit(retval int) {
	l.mu.Lock()
	l.quit = true
	l.retval = retval
	l.mu.Unlock()
	log.Debug("mainloop: quit", "retval", retval)
	l.notify()
}

// Retval returns the value passed to Quit.
func (l *Loop) Retval() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retval
}

// Iterate runs one iteration of the loop: every function deferred before
// the call is run. If block is true and nothing is pending, Iterate waits
// for the first deferred function. It returns the number of functions run.
func (l *Loop) Iterate(block bool) (int, error) {
	l.mu.Lock()
	for {
		if l.freed {
			l.mu.Unlock()
			return 0, ErrFreed
		}
		if l.quit {
			l.mu.Unlock()
			return 0, ErrQuit
		}
		if !block || len(l.pending) > 0 {
			break
		}
		l.mu.Unlock()
		<-l.wake
		l.mu.Lock()
	}
	events := l.pending
	l.pending = l.spare[:0]
	l.spare = nil
	l.mu.Unlock()

	for i, fn := range events {
		fn()
		events[i] = nil
	}

	l.mu.Lock()
	l.spare = events[:0]
	quit := l.quit
	l.mu.Unlock()

	if len(events) == 0 {
		// Let the goroutines feeding the loop make progress when the
		// caller polls without blocking.
		runtime.Gosched()
	}
	if quit {
		return len(events), ErrQuit
	}
	return len(events), nil
}

// Run iterates until Quit is called and returns the value passed to Quit.
func (l *Loop) Run() (int, error) {
	for {
		_, err := l.Iterate(true)
		if err == ErrQuit {
			return l.Retval(), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Free releases the loop. Pending functions are dropped and signal
// support is shut down if it is still active.
func (l *Loop) Free() {
	l.SignalDone()
	l.mu.Lock()
	l.freed = true
	l.pending = nil
	l.mu.Unlock()
	l.notify()
}
