package main

import "time"

// Clock abstracts time so the debounce and inertia timing can be driven
// deterministically in tests. Production code uses realClock{}.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f in its own goroutine. The
	// returned Timer can cancel the pending call.
	AfterFunc(d time.Duration, f func()) *ClockTimer
}

// ClockTimer is a scheduled call created by Clock.AfterFunc.
type ClockTimer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if it already
// fired or was stopped.
func (t *ClockTimer) Stop() bool { return t.stopFunc() }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *ClockTimer {
	timer := time.AfterFunc(d, f)
	return &ClockTimer{stopFunc: timer.Stop}
}
