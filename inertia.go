package main

import (
	"math"
	"time"

	"pkt.systems/pslog"
)

// Inertial scrolling constants. Positions are in pixels, velocities in
// pixels per millisecond.
const (
	scrollLinePx       = 10.0
	inertiaMinVelocity = 0.05
	inertiaFriction    = 0.95
	inertiaStopPx      = 0.3
	inertiaFrame       = 16 * time.Millisecond

	// inertiaMaxFrames bounds an animation regardless of velocity.
	inertiaMaxFrames = 600
)

// ScrollSample is one touch position report.
type ScrollSample struct {
	At time.Time
	Y  float64
}

// InertialScroller turns a touch drag into local scroll-line commands
// and keeps scrolling with decaying velocity after release. Nothing it
// does touches the channel. Methods run on the loop.
type InertialScroller struct {
	loop    *Loop
	surface Surface
	log     pslog.Logger

	tracking    bool
	lastY       float64
	lastAt      time.Time
	velocity    float64
	accumulated float64

	anim     *Timer
	animLast time.Time
	frames   int
}

// NewInertialScroller creates a scroller driving surface.
func NewInertialScroller(loop *Loop, surface Surface, log pslog.Logger) *InertialScroller {
	return &InertialScroller{loop: loop, surface: surface, log: log}
}

// Start begins a new touch sequence, cancelling any running animation.
func (is *InertialScroller) Start(sample ScrollSample) {
	is.Stop()
	is.tracking = true
	is.lastY = sample.Y
	is.lastAt = sample.At
}

// Move accounts for one drag step. Dragging down (Y grows) scrolls
// back toward older output.
func (is *InertialScroller) Move(sample ScrollSample) {
	if !is.tracking {
		is.Start(sample)
		return
	}
	delta := is.lastY - sample.Y
	if elapsed := milliseconds(sample.At.Sub(is.lastAt)); elapsed > 0 {
		is.velocity = delta / elapsed
	}
	is.lastY = sample.Y
	is.lastAt = sample.At
	is.accumulated += delta
	is.flush()
}

// End finishes the touch sequence and starts the decay animation when
// the release was fast enough.
func (is *InertialScroller) End() {
	if !is.tracking {
		return
	}
	is.tracking = false
	if math.Abs(is.velocity) < inertiaMinVelocity {
		is.velocity = 0
		return
	}
	is.frames = 0
	is.animLast = is.loop.Now()
	is.anim = is.loop.AfterFunc(inertiaFrame, is.tick)
	is.log.Debug("inertia started", "velocity", is.velocity)
}

// tick advances the animation by the wall-clock time since the last
// tick, so friction follows elapsed time rather than frame count.
func (is *InertialScroller) tick() {
	is.anim = nil
	if is.surface.Disposed() {
		is.reset()
		return
	}

	now := is.loop.Now()
	elapsed := now.Sub(is.animLast)
	is.animLast = now
	if elapsed <= 0 {
		elapsed = inertiaFrame
	}

	is.velocity *= math.Pow(inertiaFriction, float64(elapsed)/float64(inertiaFrame))
	is.frames++
	if math.Abs(is.velocity*milliseconds(inertiaFrame)) < inertiaStopPx || is.frames >= inertiaMaxFrames {
		is.log.Debug("inertia stopped", "frames", is.frames)
		is.reset()
		return
	}

	is.accumulated += is.velocity * milliseconds(elapsed)
	is.flush()
	is.anim = is.loop.AfterFunc(inertiaFrame, is.tick)
}

// flush issues whole scroll lines and keeps the sub-line remainder.
func (is *InertialScroller) flush() {
	lines := int(is.accumulated / scrollLinePx)
	if lines == 0 {
		return
	}
	is.accumulated -= float64(lines) * scrollLinePx
	is.surface.ScrollLines(lines)
}

// Active reports whether a decay animation is running.
func (is *InertialScroller) Active() bool { return is.anim.Active() }

// Velocity returns the current velocity in px/ms.
func (is *InertialScroller) Velocity() float64 { return is.velocity }

// Stop cancels any running animation and clears the motion state.
func (is *InertialScroller) Stop() {
	is.anim.Stop()
	is.reset()
	is.tracking = false
}

func (is *InertialScroller) reset() {
	is.anim = nil
	is.velocity = 0
	is.accumulated = 0
	is.frames = 0
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
