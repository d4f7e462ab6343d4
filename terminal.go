package main

import (
	"context"
	"errors"
	"io"

	"pkt.systems/pslog"
)

// GeometryObserver reports changes of the box a surface lives in.
// notify is always invoked on the loop; the returned func unsubscribes
// and may be called more than once.
type GeometryObserver interface {
	Observe(notify func()) (cancel func())
}

// TerminalOptions configures a Terminal. Surface must already be
// mounted; the Terminal takes ownership of it.
type TerminalOptions struct {
	URL       string
	Loop      *Loop
	Surface   Surface
	Geometry  GeometryObserver
	Dialer    Dialer
	Clipboard *Clipboard
	Toolbar   func() bool
	Log       pslog.Logger

	// OnSessionEnd runs once when the remote side goes away.
	OnSessionEnd func()
}

// Terminal binds one surface to one session channel. Everything it
// acquires is released by Dispose, in a fixed order.
type Terminal struct {
	opts TerminalOptions
	log  pslog.Logger

	conn     *Connection
	resize   *ResizeCoordinator
	scroller *InertialScroller
	input    *Multiplexer
	ready    bool

	releases releaseStack
	disposed bool
}

// Teardown steps, run in this order.
const (
	releaseTimers = iota
	releaseObservation
	releaseChannel
	releaseSurface
	releaseSteps
)

// releaseStack holds one release func per step. Missing steps are
// skipped, so a half-built Terminal can still be disposed.
type releaseStack [releaseSteps][]func()

func (rs *releaseStack) add(step int, f func()) {
	rs[step] = append(rs[step], f)
}

func (rs *releaseStack) run() {
	for step := range rs {
		for _, f := range rs[step] {
			f()
		}
		rs[step] = nil
	}
}

// NewTerminal wires the engine around opts.Surface and starts
// connecting. It must be called on the loop.
func NewTerminal(ctx context.Context, opts TerminalOptions) (*Terminal, error) {
	if opts.Loop == nil || opts.Surface == nil {
		return nil, errors.New("terminal needs a loop and a surface")
	}
	if opts.URL == "" {
		return nil, errors.New("terminal needs a channel URL")
	}
	if opts.Log == nil {
		opts.Log = discardLogger()
	}
	if opts.Clipboard == nil {
		opts.Clipboard = NewClipboard(nil, nil, opts.Log)
	}
	if opts.OnSessionEnd == nil {
		opts.OnSessionEnd = func() {}
	}
	t := &Terminal{opts: opts, log: opts.Log}
	t.releases.add(releaseSurface, opts.Surface.Dispose)

	t.resize = NewResizeCoordinator(opts.Loop, opts.Surface, t.Connection, opts.Log)
	t.releases.add(releaseTimers, t.resize.Close)
	if opts.Geometry != nil {
		t.releases.add(releaseObservation, opts.Geometry.Observe(t.resize.Observe))
	}

	t.scroller = NewInertialScroller(opts.Loop, opts.Surface, opts.Log)
	t.releases.add(releaseTimers, t.scroller.Stop)

	t.input = NewMultiplexer(MultiplexerOptions{
		Loop:      opts.Loop,
		Surface:   opts.Surface,
		Conn:      t.readyConnection,
		Scroller:  t.scroller,
		Clipboard: opts.Clipboard,
		Toolbar:   opts.Toolbar,
		Log:       opts.Log,
	})

	t.conn = NewConnection(ConnectionOptions{
		URL:          opts.URL,
		Loop:         opts.Loop,
		Surface:      opts.Surface,
		Dialer:       opts.Dialer,
		Log:          opts.Log,
		OnOpen:       t.handleOpen,
		OnSessionEnd: t.handleSessionEnd,
	})
	t.releases.add(releaseChannel, t.conn.Close)

	if replies := opts.Surface.Replies(); replies != nil {
		go t.pumpReplies(replies)
	}

	t.conn.Open(ctx)
	return t, nil
}

// Connection returns the session connection.
func (t *Terminal) Connection() *Connection { return t.conn }

// readyConnection hides the connection from input until the initial
// resize has gone out.
func (t *Terminal) readyConnection() *Connection {
	if !t.ready {
		return nil
	}
	return t.conn
}

func (t *Terminal) handleOpen() {
	t.ready = true
	t.opts.Surface.Focus()
}

func (t *Terminal) handleSessionEnd() {
	t.ready = false
	t.scroller.Stop()
	t.opts.OnSessionEnd()
}

// pumpReplies forwards screen model answers until the model is closed.
func (t *Terminal) pumpReplies(r io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if !t.opts.Loop.Post(func() {
				if !t.disposed {
					t.input.Reply(data)
				}
			}) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Terminal) Input() *Multiplexer        { return t.input }
func (t *Terminal) Surface() Surface           { return t.opts.Surface }
func (t *Terminal) Disposed() bool             { return t.disposed }
func (t *Terminal) Resize() *ResizeCoordinator { return t.resize }

// SetTheme recolors the surface in place.
func (t *Terminal) SetTheme(theme Theme) {
	if t.disposed {
		return
	}
	t.opts.Surface.SetTheme(theme)
}

// Dispose cancels pending timers, stops observing geometry, closes the
// channel and disposes the surface. Safe to call repeatedly.
func (t *Terminal) Dispose() {
	if t.disposed {
		return
	}
	t.disposed = true
	t.ready = false
	t.releases.run()
	t.log.Debug("terminal disposed")
}
