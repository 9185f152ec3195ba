package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	DefaultBackoff    = 3 * time.Second
	DefaultWriteWait  = 10 * time.Second
	DefaultSendBuffer = 1024
)

// ErrClosed is returned by Run once the channel has been closed.
var ErrClosed = errors.New("transport closed")

// State is the connection state exposed to consumers.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// FrameHandler receives inbound frames in arrival order, one at a time.
type FrameHandler func(frame []byte)

// Config holds transport configuration.
type Config struct {
	URL        string
	Backoff    time.Duration
	WriteWait  time.Duration
	SendBuffer int
	Header     http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *ws.Dialer
	// OnStateChange is called from the connect loop on every transition.
	OnStateChange func(State)
}

// Channel is a duplex websocket connection that reconnects forever with a
// fixed backoff. Messages registered with Subscribe are replayed on every
// successful connect before any other outbound traffic.
type Channel struct {
	cfg     Config
	handler FrameHandler
	logger  *slog.Logger

	sendCh chan []byte
	done   chan struct{}

	mu     sync.Mutex
	conn   *ws.Conn
	state  State
	subs   [][]byte
	closed bool

	running sync.WaitGroup
}

// New creates a Channel. Run must be called to connect.
func New(cfg Config, handler FrameHandler, logger *slog.Logger) *Channel {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.Dialer == nil {
		cfg.Dialer = ws.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = func([]byte) {}
	}
	return &Channel{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "transport"),
		sendCh:  make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send queues a message for the current connection. It is dropped silently
// while disconnected or when the outbound buffer is full.
func (c *Channel) Send(data []byte) {
	if c.State() != Connected {
		return
	}
	select {
	case c.sendCh <- data:
	default:
		c.logger.Debug("send buffer full, dropping message", "bytes", len(data))
	}
}

// Subscribe registers a message sent on every (re)connect. If the channel is
// connected it is also sent immediately.
func (c *Channel) Subscribe(data []byte) {
	c.mu.Lock()
	c.subs = append(c.subs, data)
	c.mu.Unlock()
	c.Send(data)
}

// Run connects and keeps the connection alive until ctx is done or Close is
// called. It always returns a non-nil error.
func (c *Channel) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.running.Add(1)
	c.mu.Unlock()
	defer c.running.Done()

	stop := context.AfterFunc(ctx, c.shutdown)
	defer stop()

	for attempt := 1; ; attempt++ {
		if c.isDone() {
			break
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("dial failed", "attempt", attempt, "backoff", c.cfg.Backoff, "error", err)
			if !c.wait() {
				break
			}
			continue
		}

		if err := c.serve(conn); err != nil && !c.isDone() {
			c.logger.Warn("connection lost", "error", err, "backoff", c.cfg.Backoff)
		}
		attempt = 0

		if !c.wait() {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// Close stops reconnecting, sends a close frame on the live connection and
// waits for Run to return.
func (c *Channel) Close() error {
	c.shutdown()
	c.running.Wait()
	return nil
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteWait),
		)
		_ = conn.Close()
	}
}

func (c *Channel) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait sleeps for the fixed backoff. It returns false if the channel was
// closed while waiting.
func (c *Channel) wait() bool {
	t := time.NewTimer(c.cfg.Backoff)
	defer t.Stop()
	select {
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}

func (c *Channel) dial(ctx context.Context) (*ws.Conn, error) {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// serve owns one live connection: it replays subscriptions, runs the write
// loop in the background and reads until the connection fails.
func (c *Channel) serve(conn *ws.Conn) error {
	c.drainStale()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	subs := append([][]byte(nil), c.subs...)
	changed := c.state != Connected
	c.state = Connected
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.setState(Disconnected)
	}()

	if changed && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(Connected)
	}
	c.logger.Info("connected", "url", c.cfg.URL, "subscriptions", len(subs))

	// Replay goes out before the write loop starts, so it precedes any Send.
	for _, msg := range subs {
		if err := c.write(conn, msg); err != nil {
			return fmt.Errorf("replaying subscription: %w", err)
		}
	}

	writerDone := make(chan struct{})
	connDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn, connDone)
	}()

	err := c.readLoop(conn)
	close(connDone)
	_ = conn.Close()
	<-writerDone
	return err
}

func (c *Channel) readLoop(conn *ws.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		c.handler(frame)
	}
}

// writeLoop drains sendCh for one connection. A write failure closes the
// connection so the read loop returns.
func (c *Channel) writeLoop(conn *ws.Conn, connDone <-chan struct{}) {
	for {
		select {
		case <-connDone:
			return
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.write(conn, data); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// drainStale discards messages queued for a previous connection.
func (c *Channel) drainStale() {
	for {
		select {
		case <-c.sendCh:
		default:
			return
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
