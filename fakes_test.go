package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// --- Surface double ---

// fakeSurface records what the engine does to it. Geometry is whatever
// the test sets; events is shared with other fakes to check ordering.
type fakeSurface struct {
	events *eventLog

	geometry Geometry
	fitErr   error
	fitCalls int

	output   bytes.Buffer
	statuses []string
	scrolled []int
	theme    Theme

	focused  bool
	disposed bool
}

func newFakeSurface(cols, rows uint16) *fakeSurface {
	return &fakeSurface{events: &eventLog{}, geometry: Geometry{Cols: cols, Rows: rows}}
}

func (s *fakeSurface) Write(p []byte) (int, error) {
	s.output.Write(p)
	return len(p), nil
}

func (s *fakeSurface) WriteStatus(line string) {
	s.statuses = append(s.statuses, line)
}

func (s *fakeSurface) Fit() (Geometry, error) {
	s.fitCalls++
	s.events.add("fit")
	if s.disposed {
		return Geometry{}, ErrGeometryUnavailable
	}
	if s.fitErr != nil {
		return Geometry{}, s.fitErr
	}
	return s.geometry, nil
}

func (s *fakeSurface) ScrollLines(n int) {
	s.scrolled = append(s.scrolled, n)
}

func (s *fakeSurface) scrolledTotal() int {
	total := 0
	for _, n := range s.scrolled {
		total += n
	}
	return total
}

func (s *fakeSurface) SetTheme(theme Theme) { s.theme = theme }
func (s *fakeSurface) Focus()               { s.focused = true }
func (s *fakeSurface) Blur()                { s.focused = false }
func (s *fakeSurface) Focused() bool        { return s.focused && !s.disposed }
func (s *fakeSurface) ScreenText() string   { return s.output.String() }
func (s *fakeSurface) Replies() io.Reader   { return nil }
func (s *fakeSurface) Disposed() bool       { return s.disposed }

func (s *fakeSurface) Dispose() {
	s.events.add("surface.dispose")
	s.disposed = true
}

// --- Channel doubles ---

type channelMessage struct {
	messageType int
	data        []byte
}

var errRemoteClosed = errors.New("remote closed")

// fakeChannel is an in-memory Channel. Reads block until the test
// pushes a message or closes the channel from either side.
type fakeChannel struct {
	events *eventLog

	mu         sync.Mutex
	writes     []channelMessage
	closeCount int

	inbound chan channelMessage
	gone    chan struct{}
	once    sync.Once
}

func newFakeChannel(events *eventLog) *fakeChannel {
	return &fakeChannel{
		events:  events,
		inbound: make(chan channelMessage, 16),
		gone:    make(chan struct{}),
	}
}

func (c *fakeChannel) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.inbound:
		return msg.messageType, msg.data, nil
	case <-c.gone:
		return 0, nil, errRemoteClosed
	}
}

func (c *fakeChannel) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, channelMessage{messageType, append([]byte(nil), data...)})
	if c.events != nil {
		c.events.add("send:" + string(data))
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	if c.events != nil {
		c.events.add("channel.close")
	}
	c.dropRemote()
	return nil
}

// push delivers a message as if the remote side had sent it.
func (c *fakeChannel) push(data string) {
	c.inbound <- channelMessage{websocket.BinaryMessage, []byte(data)}
}

// dropRemote makes the next read fail as if the network went away.
func (c *fakeChannel) dropRemote() {
	c.once.Do(func() { close(c.gone) })
}

func (c *fakeChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, msg := range c.writes {
		out[i] = string(msg.data)
	}
	return out
}

func (c *fakeChannel) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// fakeDialer hands out one channel. When hold is set, Dial blocks until
// release is closed or the context is cancelled.
type fakeDialer struct {
	channel *fakeChannel
	err     error
	hold    bool
	release chan struct{}

	mu   sync.Mutex
	urls []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Channel, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	if d.hold {
		select {
		case <-d.release:
		case <-ctx.Done():
			// A dial that ignores cancellation still hands back its channel.
			return d.channel, nil
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.channel, nil
}

// --- Helpers ---

// eventLog records named events across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// waitFor drains the loop until cond holds or the deadline passes.
func waitFor(t *testing.T, loop *Loop, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		loop.RunPending()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
