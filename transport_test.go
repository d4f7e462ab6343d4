package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// --- Channel URL Tests ---

func TestChannelURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		handle  string
		token   string
		want    string
		wantErr bool
	}{
		{"http maps to ws", "http://example.com", "abc", "", "ws://example.com/ws/abc", false},
		{"https maps to wss", "https://example.com:8443", "abc", "", "wss://example.com:8443/ws/abc", false},
		{"ws kept", "ws://example.com", "abc", "", "ws://example.com/ws/abc", false},
		{"bare host", "localhost:8000", "s1", "", "ws://localhost:8000/ws/s1", false},
		{"token query", "https://example.com", "s1", "t0k", "wss://example.com/ws/s1?token=t0k", false},
		{"token escaped", "http://example.com", "s1", "a b&c", "ws://example.com/ws/s1?token=a+b%26c", false},
		{"handle escaped", "http://example.com", "a/b", "", "ws://example.com/ws/a%2Fb", false},
		{"base path ignored", "http://example.com/app/", "s1", "", "ws://example.com/ws/s1", false},
		{"empty handle", "http://example.com", "", "", "", true},
		{"unsupported scheme", "ftp://example.com", "s1", "", "", true},
		{"no host", "http://", "s1", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChannelURL(tt.base, tt.handle, tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ChannelURL error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ChannelURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedactToken(t *testing.T) {
	got := redactToken("wss://example.com/ws/s1?token=secret")
	if strings.Contains(got, "secret") {
		t.Errorf("token leaked: %q", got)
	}
}

// --- Connection Tests (in-memory channel) ---

type connHarness struct {
	loop    *Loop
	surface *fakeSurface
	channel *fakeChannel
	dialer  *fakeDialer
	conn    *Connection
	opened  int
	ended   int
}

func newConnHarness(t *testing.T) *connHarness {
	t.Helper()
	h := &connHarness{
		loop:    NewLoop(newFakeClock()),
		surface: newFakeSurface(80, 24),
	}
	h.channel = newFakeChannel(h.surface.events)
	h.dialer = &fakeDialer{channel: h.channel, release: make(chan struct{})}
	h.conn = NewConnection(ConnectionOptions{
		URL:     "ws://example.com/ws/s1",
		Loop:    h.loop,
		Surface: h.surface,
		Dialer:  h.dialer,
		OnOpen: func() {
			h.opened++
			h.surface.events.add("open")
		},
		OnSessionEnd: func() { h.ended++ },
	})
	t.Cleanup(h.loop.Stop)
	return h
}

func (h *connHarness) open(t *testing.T) {
	t.Helper()
	h.conn.Open(context.Background())
	waitFor(t, h.loop, "connection open", func() bool { return h.conn.State() == StateOpen })
}

// TestConnectionInitialResizeBeforeInput verifies the first frame on a
// fresh channel is the resize and that input is enabled only after it
func TestConnectionInitialResizeBeforeInput(t *testing.T) {
	h := newConnHarness(t)
	if h.conn.State() != StateConnecting {
		t.Fatalf("new connection state = %v, want connecting", h.conn.State())
	}
	h.open(t)

	sent := h.channel.sent()
	if len(sent) != 1 || sent[0] != "\x01RESIZE:80,24" {
		t.Fatalf("frames after open = %q, want one resize frame", sent)
	}
	events := h.surface.events.list()
	want := []string{"fit", "send:\x01RESIZE:80,24", "open"}
	if strings.Join(events, "|") != strings.Join(want, "|") {
		t.Errorf("events = %q, want %q", events, want)
	}

	h.conn.Send([]byte("ls\r"))
	if sent := h.channel.sent(); sent[len(sent)-1] != "ls\r" {
		t.Errorf("last frame = %q, want ls\\r", sent[len(sent)-1])
	}
}

// TestConnectionSendWhileConnectingDropped verifies nothing is queued
// before the channel opens
func TestConnectionSendWhileConnectingDropped(t *testing.T) {
	h := newConnHarness(t)
	if h.conn.Send([]byte("early")) {
		t.Error("Send succeeded while connecting")
	}
	if h.conn.SendResize(Geometry{Cols: 100, Rows: 30}) {
		t.Error("SendResize succeeded while connecting")
	}
	h.open(t)
	for _, frame := range h.channel.sent() {
		if frame == "early" || frame == "\x01RESIZE:100,30" {
			t.Errorf("dropped frame %q was sent after open", frame)
		}
	}
}

// TestConnectionDeliversOutputVerbatim verifies inbound bytes reach the surface
func TestConnectionDeliversOutputVerbatim(t *testing.T) {
	h := newConnHarness(t)
	h.open(t)

	h.channel.push("\x1b[32mhello\x1b[0m\r\n")
	waitFor(t, h.loop, "output", func() bool { return h.surface.output.Len() > 0 })
	if got := h.surface.output.String(); got != "\x1b[32mhello\x1b[0m\r\n" {
		t.Errorf("surface output = %q", got)
	}
}

// TestConnectionUnexpectedClose verifies the session-ended path runs once
func TestConnectionUnexpectedClose(t *testing.T) {
	h := newConnHarness(t)
	h.open(t)

	h.channel.dropRemote()
	waitFor(t, h.loop, "closed", func() bool { return h.conn.State() == StateClosed })
	h.loop.RunPending()

	if h.ended != 1 {
		t.Errorf("OnSessionEnd called %d times, want 1", h.ended)
	}
	if len(h.surface.statuses) != 1 || h.surface.statuses[0] != sessionEndedLine {
		t.Errorf("statuses = %q, want session ended line", h.surface.statuses)
	}
	if h.conn.Send([]byte("x")) {
		t.Error("Send succeeded after remote close")
	}

	h.conn.Close()
	if h.ended != 1 {
		t.Errorf("Close after remote close fired OnSessionEnd again")
	}
}

// TestConnectionCloseIdempotent verifies one underlying close
func TestConnectionCloseIdempotent(t *testing.T) {
	h := newConnHarness(t)
	h.open(t)

	h.conn.Close()
	h.conn.Close()
	h.loop.RunPending()

	if got := h.channel.closes(); got != 1 {
		t.Errorf("channel closed %d times, want 1", got)
	}
	if h.conn.State() != StateClosed {
		t.Errorf("state = %v, want closed", h.conn.State())
	}
	if h.ended != 0 {
		t.Error("explicit Close fired OnSessionEnd")
	}
	if len(h.surface.statuses) != 0 {
		t.Errorf("explicit Close printed %q", h.surface.statuses)
	}
}

// TestConnectionCloseWhileConnecting verifies a late channel is closed
// exactly once and never used
func TestConnectionCloseWhileConnecting(t *testing.T) {
	h := newConnHarness(t)
	h.dialer.hold = true

	h.conn.Open(context.Background())
	h.conn.Close()
	if h.conn.State() != StateClosed {
		t.Fatalf("state = %v, want closed", h.conn.State())
	}

	waitFor(t, h.loop, "late channel closed", func() bool { return h.channel.closes() == 1 })
	if sent := h.channel.sent(); len(sent) != 0 {
		t.Errorf("late channel got frames %q", sent)
	}
	if h.opened != 0 || h.ended != 0 {
		t.Errorf("callbacks ran: opened=%d ended=%d", h.opened, h.ended)
	}
}

// TestConnectionDialFailure verifies a failed open ends the session
func TestConnectionDialFailure(t *testing.T) {
	h := newConnHarness(t)
	h.dialer.err = errors.New("connection refused")

	h.conn.Open(context.Background())
	waitFor(t, h.loop, "closed", func() bool { return h.conn.State() == StateClosed })

	if h.ended != 1 || h.opened != 0 {
		t.Errorf("opened=%d ended=%d, want 0 and 1", h.opened, h.ended)
	}
	if len(h.surface.statuses) != 1 {
		t.Errorf("statuses = %q", h.surface.statuses)
	}
}

// TestSendResizeDedupe verifies unchanged geometry is not re-sent
func TestSendResizeDedupe(t *testing.T) {
	h := newConnHarness(t)
	h.open(t)

	if h.conn.SendResize(Geometry{Cols: 80, Rows: 24}) {
		t.Error("identical geometry re-sent")
	}
	if !h.conn.SendResize(Geometry{Cols: 120, Rows: 40}) {
		t.Error("changed geometry not sent")
	}
	sent := h.channel.sent()
	if len(sent) != 2 || sent[1] != "\x01RESIZE:120,40" {
		t.Errorf("frames = %q", sent)
	}
}

// TestConnectionFrameTypes verifies text frames for UTF-8 and binary otherwise
func TestConnectionFrameTypes(t *testing.T) {
	h := newConnHarness(t)
	h.open(t)

	h.conn.Send([]byte("héllo"))
	h.conn.Send([]byte{0xff, 0xfe})

	h.channel.mu.Lock()
	defer h.channel.mu.Unlock()
	writes := h.channel.writes
	if writes[1].messageType != websocket.TextMessage {
		t.Errorf("UTF-8 payload sent as type %d", writes[1].messageType)
	}
	if writes[2].messageType != websocket.BinaryMessage {
		t.Errorf("non UTF-8 payload sent as type %d", writes[2].messageType)
	}
}

// --- Connection Tests (real websocket) ---

// sessionServer is a websocket endpoint that records every frame and
// lets the test push output or hang up.
type sessionServer struct {
	*httptest.Server

	mu       sync.Mutex
	received []string
	query    string
	conn     *websocket.Conn
	ready    chan struct{}
}

func newSessionServer(t *testing.T) *sessionServer {
	t.Helper()
	s := &sessionServer{ready: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.query = r.URL.Query().Get("token")
		s.mu.Unlock()
		close(s.ready)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(data))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sessionServer) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// TestConnectionWebsocketSession runs a full session against a real
// websocket server
func TestConnectionWebsocketSession(t *testing.T) {
	server := newSessionServer(t)
	url, err := ChannelURL(server.URL, "s1", "t0k")
	if err != nil {
		t.Fatal(err)
	}

	loop := NewLoop(newFakeClock())
	t.Cleanup(loop.Stop)
	surface := newFakeSurface(80, 24)
	ended := 0
	conn := NewConnection(ConnectionOptions{
		URL:          url,
		Loop:         loop,
		Surface:      surface,
		OnSessionEnd: func() { ended++ },
	})
	conn.Open(context.Background())
	waitFor(t, loop, "open", func() bool { return conn.State() == StateOpen })
	<-server.ready

	conn.Send([]byte("echo hi\r"))
	waitFor(t, loop, "frames", func() bool { return len(server.frames()) == 2 })
	frames := server.frames()
	if frames[0] != "\x01RESIZE:80,24" || frames[1] != "echo hi\r" {
		t.Errorf("server received %q", frames)
	}
	server.mu.Lock()
	token := server.query
	serverConn := server.conn
	server.mu.Unlock()
	if token != "t0k" {
		t.Errorf("token = %q, want t0k", token)
	}

	serverConn.WriteMessage(websocket.TextMessage, []byte("hi\r\n"))
	waitFor(t, loop, "output", func() bool { return surface.output.String() == "hi\r\n" })

	serverConn.Close()
	waitFor(t, loop, "session end", func() bool { return ended == 1 })
	if conn.State() != StateClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}
}

// TestWebsocketChannelQueue tests writes are queued without blocking and
// refused once the queue is full or the channel closed
func TestWebsocketChannelQueue(t *testing.T) {
	c := &websocketChannel{
		outbox: make(chan outboundMessage, 1),
		done:   make(chan struct{}),
	}
	data := []byte("ls\r")
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("first write error = %v", err)
	}
	data[0] = 'X'
	if err := c.WriteMessage(websocket.TextMessage, []byte("pwd\r")); !errors.Is(err, errSendQueueFull) {
		t.Errorf("write to full queue error = %v, want errSendQueueFull", err)
	}
	if msg := <-c.outbox; string(msg.data) != "ls\r" {
		t.Errorf("queued %q, want a copy of ls\\r", msg.data)
	}

	close(c.done)
	if err := c.WriteMessage(websocket.TextMessage, data); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("write after close error = %v, want ErrConnectionClosed", err)
	}
}

// TestConnectionWebsocketOrder tests queued sends reach the server in order
func TestConnectionWebsocketOrder(t *testing.T) {
	server := newSessionServer(t)
	url, err := ChannelURL(server.URL, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	loop := NewLoop(newFakeClock())
	t.Cleanup(loop.Stop)
	conn := NewConnection(ConnectionOptions{URL: url, Loop: loop, Surface: newFakeSurface(80, 24)})
	t.Cleanup(conn.Close)
	conn.Open(context.Background())
	waitFor(t, loop, "open", func() bool { return conn.State() == StateOpen })

	want := []string{"\x01RESIZE:80,24"}
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("line %d\r", i)
		conn.Send([]byte(msg))
		want = append(want, msg)
	}
	waitFor(t, loop, "frames", func() bool { return len(server.frames()) == len(want) })
	if got := strings.Join(server.frames(), "|"); got != strings.Join(want, "|") {
		t.Errorf("server received %q", server.frames())
	}
}
