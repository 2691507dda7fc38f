// Package reactor provides the single-threaded cooperative event loop
// that drives every pipeline, bus callback and timer in the runtime.
//
// All stream operators, user callbacks and bus callbacks execute on the
// loop goroutine; goroutines owned by transports only ever Post work onto
// it. Because execution is serial, the core needs no locks. Blocking
// inside a posted task stalls the whole runtime and is forbidden.
package reactor

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ErrStopped is returned by Post after the loop has shut down.
var ErrStopped = errors.New("reactor loop is stopped")

// Loop is a serialized executor. Tasks run in Post order on the single
// goroutine that called Run.
type Loop struct {
	tasks chan func()
	quit  chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewLoop creates a loop ready to accept tasks.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 1024),
		quit:  make(chan struct{}),
	}
}

// Post enqueues fn for execution on the loop goroutine.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.mu.Unlock()

	select {
	case l.tasks <- fn:
		return nil
	case <-l.quit:
		return ErrStopped
	}
}

// Run executes tasks until Stop is called. It drains tasks already
// queued at stop time, then returns.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			for {
				select {
				case fn := <-l.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Stop shuts the loop down. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.quit)
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// NotifySignals stops the loop when one of the given signals arrives.
// With no signals given it defaults to SIGINT, SIGTERM and SIGQUIT.
func (l *Loop) NotifySignals(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = defaultSignals()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		select {
		case <-ch:
			signal.Stop(ch)
			l.Stop()
		case <-l.quit:
			signal.Stop(ch)
		}
	}()
}

func defaultSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

// Timer is a one-shot deadline timer whose callback runs on the loop
// (except the error call described on NewTimer). Re-arm by creating a
// new timer from inside the callback.
type Timer struct {
	loop *Loop
	t    *time.Timer

	mu        sync.Mutex
	cancelled bool
}

// NewTimer schedules fn to run on the loop after d. fn receives a
// non-nil error when the timer fired but the loop was already stopped;
// that call runs on the timer's own goroutine, not on the loop.
func (l *Loop) NewTimer(d time.Duration, fn func(err error)) *Timer {
	timer := &Timer{loop: l}
	timer.t = time.AfterFunc(d, func() {
		timer.mu.Lock()
		if timer.cancelled {
			timer.mu.Unlock()
			return
		}
		timer.mu.Unlock()
		if err := l.Post(func() {
			timer.mu.Lock()
			cancelled := timer.cancelled
			timer.mu.Unlock()
			if !cancelled {
				fn(nil)
			}
		}); err != nil {
			fn(err)
		}
	})
	return timer
}

// Cancel stops the timer. A cancelled timer never invokes its callback.
// Idempotent.
func (t *Timer) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.t.Stop()
}
