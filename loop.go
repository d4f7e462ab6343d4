package main

import (
	"context"
	"sync"
	"time"
)

// Loop is the single goroutine that owns all engine state. Anything
// asynchronous (websocket reads, input pumps, clipboard I/O, timers)
// hands its result over with Post; only callbacks running on the loop
// may touch a Terminal, Connection, Multiplexer or Surface.
type Loop struct {
	clock Clock
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop backed by clock. A nil clock means wall time.
func NewLoop(clock Clock) *Loop {
	if clock == nil {
		clock = realClock{}
	}
	return &Loop{
		clock: clock,
		queue: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Post queues f to run on the loop. Returns false once the loop has
// been stopped; f is then dropped.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- f:
		return true
	case <-l.done:
		return false
	}
}

// Run processes callbacks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case f := <-l.queue:
			f()
		}
	}
}

// RunPending runs every queued callback without blocking and returns
// how many ran. Callbacks queued while draining are run too.
func (l *Loop) RunPending() int {
	n := 0
	for {
		select {
		case f := <-l.queue:
			f()
			n++
		default:
			return n
		}
	}
}

// Stop ends Run and makes further Posts fail. Safe to call repeatedly.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Timer is a cancellable callback scheduled with Loop.AfterFunc. Its
// fields are only touched on the loop goroutine.
type Timer struct {
	clockTimer *ClockTimer
	stopped    bool
}

// AfterFunc runs f on the loop after d. Once Stop has been called f
// never runs, even if the clock already fired and the callback is
// sitting in the queue.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{}
	t.clockTimer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			f()
		})
	})
	return t
}

// Stop cancels the timer. Nil-safe and idempotent.
func (t *Timer) Stop() {
	if t == nil || t.stopped {
		return
	}
	t.stopped = true
	if t.clockTimer != nil {
		t.clockTimer.Stop()
	}
}

// Active reports whether the timer is still pending.
func (t *Timer) Active() bool { return t != nil && !t.stopped }
