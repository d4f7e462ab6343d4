package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

// ConnState is the lifecycle of one Connection. Closed is terminal: a
// new session handle means a new Connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// ErrConnectionClosed is returned for operations on a closed channel.
var ErrConnectionClosed = errors.New("connection closed")

var errSendQueueFull = errors.New("send queue full")

// sessionEndedLine is printed on the surface when the channel goes away.
const sessionEndedLine = "\r\n\x1b[31m[Session ended]\x1b[0m\r\n"

const (
	channelWriteTimeout = 10 * time.Second
	channelReadLimit    = 1 << 20
	handshakeTimeout    = 15 * time.Second
	channelSendQueue    = 256
)

// Channel is the bidirectional message stream carrying terminal bytes
// and control frames. WriteMessage must not block on the network.
type Channel interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Channel to a URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// websocketDialer dials gorilla websocket channels.
type websocketDialer struct {
	dialer *websocket.Dialer
}

func newWebsocketDialer() *websocketDialer {
	return &websocketDialer{dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}}
}

func (d *websocketDialer) Dial(ctx context.Context, rawURL string) (Channel, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", redactToken(rawURL), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redactToken(rawURL), err)
	}
	conn.SetReadLimit(channelReadLimit)
	return newWebsocketChannel(conn, channelSendQueue), nil
}

// websocketChannel queues writes for a single writer goroutine, so a
// stalled peer never blocks the loop. Each write gets a deadline, and a
// close frame goes out before the socket is torn down.
type websocketChannel struct {
	conn   *websocket.Conn
	outbox chan outboundMessage
	done   chan struct{}
	once   sync.Once
}

type outboundMessage struct {
	messageType int
	data        []byte
}

func newWebsocketChannel(conn *websocket.Conn, queue int) *websocketChannel {
	c := &websocketChannel{
		conn:   conn,
		outbox: make(chan outboundMessage, queue),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *websocketChannel) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// WriteMessage queues data and returns at once. A full queue drops the
// message with errSendQueueFull.
func (c *websocketChannel) WriteMessage(messageType int, data []byte) error {
	msg := outboundMessage{messageType, append([]byte(nil), data...)}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.outbox <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return errSendQueueFull
	}
}

// writeLoop owns every data write on the socket. A failed write closes
// the socket so the read side reports the session as ended.
func (c *websocketChannel) writeLoop() {
	for {
		select {
		case msg := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *websocketChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// ChannelURL builds the channel address for a session. The scheme
// mirrors the base: http and ws give ws, https and wss give wss.
func ChannelURL(base, handle, token string) (string, error) {
	if handle == "" {
		return "", fmt.Errorf("session handle is empty")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("server address %q has no host", base)
	}

	scheme := "ws"
	switch strings.ToLower(parsed.Scheme) {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", parsed.Scheme)
	}

	channel := url.URL{
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   "/ws/" + handle,
	}
	channel.RawPath = "/ws/" + url.PathEscape(handle)
	if token != "" {
		channel.RawQuery = url.Values{"token": {token}}.Encode()
	}
	return channel.String(), nil
}

// redactToken hides the token query parameter for logging.
func redactToken(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	if query.Has("token") {
		query.Set("token", "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	URL     string
	Loop    *Loop
	Surface Surface
	Dialer  Dialer
	Log     pslog.Logger

	// OnOpen runs on the loop right after the initial resize frame has
	// been sent; input handling is enabled from here.
	OnOpen func()

	// OnSessionEnd runs on the loop at most once, after the channel
	// failed to open or was closed by the remote side or the network.
	OnSessionEnd func()
}

// Connection owns one channel for one session handle. All methods must
// be called on the loop.
type Connection struct {
	opts ConnectionOptions

	state      ConnState
	channel    Channel
	cancelDial context.CancelFunc
	ended      bool

	lastGeometry Geometry
	sentResize   bool
}

// NewConnection creates a Connection in the Connecting state. Nothing
// touches the network until Open.
func NewConnection(opts ConnectionOptions) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = newWebsocketDialer()
	}
	if opts.Log == nil {
		opts.Log = discardLogger()
	}
	if opts.OnOpen == nil {
		opts.OnOpen = func() {}
	}
	if opts.OnSessionEnd == nil {
		opts.OnSessionEnd = func() {}
	}
	return &Connection{opts: opts, state: StateConnecting}
}

// State returns the current connection state.
func (c *Connection) State() ConnState { return c.state }

// Open starts dialing in the background. The outcome is delivered to
// the loop.
func (c *Connection) Open(ctx context.Context) {
	if c.state != StateConnecting || c.cancelDial != nil {
		return
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.opts.Log.Info("channel connecting", "url", redactToken(c.opts.URL))

	go func() {
		channel, err := c.opts.Dialer.Dial(dialCtx, c.opts.URL)
		posted := c.opts.Loop.Post(func() { c.handleDial(channel, err) })
		if !posted && channel != nil {
			channel.Close()
		}
	}()
}

func (c *Connection) handleDial(channel Channel, err error) {
	if c.state == StateClosed {
		// Closed while connecting: the late channel is discarded.
		if channel != nil {
			channel.Close()
		}
		return
	}
	if err != nil {
		c.opts.Log.Warn("channel open failed", "err", err)
		c.state = StateClosed
		c.end()
		return
	}

	c.channel = channel
	c.state = StateOpen
	c.opts.Log.Info("channel open")

	if geometry, err := c.opts.Surface.Fit(); err == nil {
		c.SendResize(geometry)
	} else {
		c.opts.Log.Warn("initial resize skipped", "err", err)
	}
	c.opts.OnOpen()

	go c.readLoop(channel)
}

// readLoop forwards inbound messages to the surface through the loop.
func (c *Connection) readLoop(channel Channel) {
	for {
		_, data, err := channel.ReadMessage()
		if err != nil {
			c.opts.Loop.Post(func() { c.handleRemoteClose(channel, err) })
			return
		}
		if !c.opts.Loop.Post(func() { c.deliver(channel, data) }) {
			return
		}
	}
}

func (c *Connection) deliver(channel Channel, data []byte) {
	if c.state != StateOpen || c.channel != channel {
		return
	}
	c.opts.Surface.Write(data)
}

func (c *Connection) handleRemoteClose(channel Channel, err error) {
	if c.state != StateOpen || c.channel != channel {
		return
	}
	c.opts.Log.Info("channel closed by remote", "err", err)
	c.state = StateClosed
	c.channel.Close()
	c.end()
}

// end reports the session as over. Runs at most once.
func (c *Connection) end() {
	if c.ended {
		return
	}
	c.ended = true
	if !c.opts.Surface.Disposed() {
		c.opts.Surface.WriteStatus(sessionEndedLine)
	}
	c.opts.OnSessionEnd()
}

// Send hands raw input to the channel. It returns false, dropping the
// data, when the connection is not open. Delivery is not awaited: the
// channel queues the write.
func (c *Connection) Send(data []byte) bool {
	if c.state != StateOpen || len(data) == 0 {
		return false
	}
	messageType := websocket.TextMessage
	if !utf8.Valid(data) {
		messageType = websocket.BinaryMessage
	}
	if err := c.channel.WriteMessage(messageType, data); err != nil {
		c.opts.Log.Debug("channel send failed", "err", err, "bytes", len(data))
	}
	return true
}

// SendResize emits a resize frame when geometry differs from the last
// one sent on this connection. The first call after open always sends.
func (c *Connection) SendResize(geometry Geometry) bool {
	if c.state != StateOpen {
		return false
	}
	if c.sentResize && geometry == c.lastGeometry {
		return false
	}
	if !c.Send(EncodeResize(geometry)) {
		return false
	}
	c.sentResize = true
	c.lastGeometry = geometry
	c.opts.Log.Debug("resize sent", "cols", geometry.Cols, "rows", geometry.Rows)
	return true
}

// Close shuts the connection down. Closing a closed connection is a
// no-op; closing while connecting only abandons the dial. The channel
// is closed at most once and OnSessionEnd is not invoked.
func (c *Connection) Close() {
	switch c.state {
	case StateClosed:
		return
	case StateConnecting:
		c.state = StateClosed
		if c.cancelDial != nil {
			c.cancelDial()
		}
	case StateOpen:
		c.state = StateClosed
		if err := c.channel.Close(); err != nil {
			c.opts.Log.Debug("channel close", "err", err)
		}
		if c.cancelDial != nil {
			c.cancelDial()
		}
	}
	c.opts.Log.Info("channel closed")
}
