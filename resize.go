package main

import (
	"errors"
	"time"

	"pkt.systems/pslog"
)

// resizeDebounce is the quiet period after the last observed geometry
// change before the surface is re-fitted and the remote side told.
const resizeDebounce = 100 * time.Millisecond

type resizePhase int

const (
	resizeIdle resizePhase = iota
	resizeDebouncing
)

// ResizeCoordinator coalesces bursts of geometry changes into a single
// fit + resize frame. Methods run on the loop.
type ResizeCoordinator struct {
	loop    *Loop
	surface Surface
	conn    func() *Connection
	log     pslog.Logger

	phase  resizePhase
	timer  *Timer
	closed bool
}

// NewResizeCoordinator wires a coordinator to a surface. conn returns
// the current connection (nil while none exists).
func NewResizeCoordinator(loop *Loop, surface Surface, conn func() *Connection, log pslog.Logger) *ResizeCoordinator {
	return &ResizeCoordinator{
		loop:    loop,
		surface: surface,
		conn:    conn,
		log:     log,
	}
}

// Observe records a geometry change and restarts the debounce window.
// Notifications after Close are ignored.
func (rc *ResizeCoordinator) Observe() {
	if rc.closed {
		return
	}
	rc.timer.Stop()
	rc.phase = resizeDebouncing
	rc.timer = rc.loop.AfterFunc(resizeDebounce, rc.settle)
}

// settle re-queries the geometry at expiry so the frame matches what
// was actually rendered, not the snapshot from the first event.
func (rc *ResizeCoordinator) settle() {
	rc.phase = resizeIdle
	rc.timer = nil
	if rc.closed {
		return
	}

	geometry, err := rc.surface.Fit()
	if err != nil {
		if errors.Is(err, ErrGeometryUnavailable) {
			rc.log.Debug("resize skipped", "reason", "geometry unavailable")
		} else {
			rc.log.Warn("resize fit failed", "err", err)
		}
		return
	}

	conn := rc.conn()
	if conn == nil || conn.State() != StateOpen {
		return
	}
	conn.SendResize(geometry)
}

// Pending reports whether a debounce window is open.
func (rc *ResizeCoordinator) Pending() bool {
	return rc.phase == resizeDebouncing
}

// Cancel drops a pending debounce without fitting.
func (rc *ResizeCoordinator) Cancel() {
	rc.timer.Stop()
	rc.timer = nil
	rc.phase = resizeIdle
}

// Close cancels any pending debounce and ignores later observations,
// including notifications already queued on the loop.
func (rc *ResizeCoordinator) Close() {
	rc.closed = true
	rc.Cancel()
}
