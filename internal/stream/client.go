// Package stream implements the duplex WebSocket transport between the
// recorder and the backend. Each socket carries a session handshake
// followed by base64 audio chunks and segment boundaries outbound, and a
// tagged union of acknowledgement, transcription and response messages
// inbound. Connection loss outside a clean close triggers exponential
// backoff reconnection.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrClosed is returned by operations on a client that has been closed.
var ErrClosed = errors.New("stream: client closed")

// ErrReconnectExhausted is reported through OnGiveUp when every reconnect
// attempt has failed.
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

const outboundQueueSize = 64

// Config controls dialing and the reconnect policy.
type Config struct {
	// URL is the full WebSocket endpoint, e.g. ws://host:8000/ws/audio.
	URL       string
	SessionID string

	DialTimeout          time.Duration
	ReconnectDelay       time.Duration
	ReconnectMultiplier  float64
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

// nextDelay advances the reconnect backoff by one step: multiply by the
// configured factor and clamp to the cap. The progression is non-decreasing
// for any multiplier >= 1.
func (c Config) nextDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * c.ReconnectMultiplier)
	if d > c.MaxReconnectDelay {
		d = c.MaxReconnectDelay
	}
	return d
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = 1.5
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
}

// Hooks are the client's event callbacks. All are optional and are invoked
// from the client's internal goroutines.
type Hooks struct {
	OnMessage      func(Inbound)
	OnConnected    func(reconnectAttempt int)
	OnDisconnected func(err error)
	OnGiveUp       func(err error)
}

// Client maintains one WebSocket connection to the backend. Concurrent
// Connect calls coalesce onto a single dial; sends while disconnected are
// dropped but kick off at most one opportunistic reconnect. A server close
// with a normal or going-away status is final and is never retried.
type Client struct {
	cfg   Config
	hooks Hooks

	mu           sync.Mutex
	conn         *websocket.Conn
	out          chan []byte // outbound queue for the current connection
	pending      *pendingDial
	reconnecting bool
	intentional  bool
	closed       bool

	done     chan struct{}
	doneOnce sync.Once
}

// pendingDial represents one in-flight connection attempt. Waiters block on
// done and then read err; the error is written before done is closed, so
// each waiter sees the result of the attempt it joined, not a later one.
type pendingDial struct {
	done chan struct{}
	err  error
}

// NewClient builds a Client. No connection is made until Connect.
func NewClient(cfg Config, hooks Hooks) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:   cfg,
		hooks: hooks,
		done:  make(chan struct{}),
	}
}

// Connect establishes the socket if none exists. When a dial is already in
// flight every caller waits on that same attempt, so N concurrent calls
// yield exactly one socket.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.pending != nil {
		p := c.pending
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return p.err
		}
	}
	p := &pendingDial{done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	p.err = err
	close(p.done)
	return err
}

// dial performs one connection attempt including the session handshake.
func (c *Client) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("stream: dial %s: %w", c.cfg.URL, err)
	}

	hello, _ := json.Marshal(sessionMsg{Type: TypeSession, SessionID: c.cfg.SessionID})
	wctx, wcancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	err = conn.Write(wctx, websocket.MessageText, hello)
	wcancel()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("stream: send session handshake: %w", err)
	}

	out := make(chan []byte, outboundQueueSize)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return ErrClosed
	}
	c.conn = conn
	c.out = out
	c.mu.Unlock()

	connDone := make(chan struct{})
	go c.writeLoop(conn, out, connDone)
	go c.readLoop(conn, connDone)
	slog.Info("stream connected", "url", c.cfg.URL, "session_id", c.cfg.SessionID)
	return nil
}

// SendChunk queues one encoded audio packet. While disconnected the chunk
// is dropped and a background reconnect is triggered if none is in flight.
func (c *Client) SendChunk(data []byte) error {
	msg, _ := json.Marshal(audioChunkMsg{
		Type: TypeAudioChunk,
		Data: base64.StdEncoding.EncodeToString(data),
	})
	return c.send(msg)
}

// SendSegmentEnd queues the segment boundary marker.
func (c *Client) SendSegmentEnd() error {
	msg, _ := json.Marshal(segmentEndMsg{Type: TypeSegmentEnd})
	return c.send(msg)
}

func (c *Client) send(msg []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn == nil {
		kick := !c.reconnecting && c.pending == nil
		if kick {
			c.reconnecting = true
		}
		c.mu.Unlock()
		if kick {
			go c.reconnectOnce()
		}
		return errors.New("stream: not connected, chunk dropped")
	}
	out := c.out
	c.mu.Unlock()

	select {
	case out <- msg:
		return nil
	default:
		return errors.New("stream: outbound queue full, chunk dropped")
	}
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the client down. The server sees a normal closure; no
// reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.intentional = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	return nil
}

// Disconnect closes the current socket without reconnecting, leaving the
// client usable for a later Connect. The next connection loss event is
// suppressed as intentional.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.intentional = true
		c.conn = nil
	}
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// writeLoop owns all outbound frames for one connection. connDone is closed
// by the connection's readLoop on its way out, so a dead socket releases its
// writer even though the client keeps running.
func (c *Client) writeLoop(conn *websocket.Conn, out chan []byte, connDone chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-connDone:
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
			err := conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Warn("stream write failed", "err", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer close(connDone)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		in, derr := decodeInbound(data)
		if derr != nil {
			slog.Warn("stream: undecodable server message", "err", derr)
			continue
		}
		if in.Type == TypeError {
			slog.Warn("stream: server error message", "message", in.Message)
		}
		if c.hooks.OnMessage != nil {
			c.hooks.OnMessage(in)
		}
	}
}

// handleDisconnect classifies a read failure and decides whether to begin
// the reconnect loop. Clean closes (normal or going-away) and intentional
// local disconnects are final.
func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	stale := c.conn != conn && c.conn != nil
	if c.conn == conn {
		c.conn = nil
		c.out = nil
	}
	intentional := c.intentional
	c.intentional = false
	closed := c.closed
	c.mu.Unlock()

	if stale || closed {
		return
	}

	status := websocket.CloseStatus(err)
	clean := status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway

	if c.hooks.OnDisconnected != nil {
		c.hooks.OnDisconnected(err)
	}

	switch {
	case intentional:
		slog.Debug("stream disconnected intentionally")
	case clean:
		slog.Info("stream closed by server", "status", status)
	default:
		slog.Warn("stream connection lost, reconnecting", "err", err)
		c.mu.Lock()
		start := !c.reconnecting
		if start {
			c.reconnecting = true
		}
		c.mu.Unlock()
		if start {
			go c.reconnectLoop()
		}
	}
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds, the client is closed, or the attempt budget is spent.
func (c *Client) reconnectLoop() {
	defer c.clearReconnecting()

	delay := c.cfg.ReconnectDelay
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		err := c.Connect(context.Background())
		if err == nil {
			slog.Info("stream reconnected", "attempt", attempt)
			if c.hooks.OnConnected != nil {
				c.hooks.OnConnected(attempt)
			}
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		slog.Warn("stream reconnect failed",
			"attempt", attempt, "max", c.cfg.MaxReconnectAttempts, "next_delay", delay, "err", err)

		delay = c.cfg.nextDelay(delay)
	}

	slog.Error("stream reconnect attempts exhausted", "attempts", c.cfg.MaxReconnectAttempts)
	if c.hooks.OnGiveUp != nil {
		c.hooks.OnGiveUp(ErrReconnectExhausted)
	}
}

// reconnectOnce is the opportunistic path for sends while disconnected: a
// single immediate attempt, falling back to the full loop on failure.
func (c *Client) reconnectOnce() {
	err := c.Connect(context.Background())
	if err == nil || errors.Is(err, ErrClosed) {
		c.clearReconnecting()
		if err == nil && c.hooks.OnConnected != nil {
			c.hooks.OnConnected(0)
		}
		return
	}
	slog.Warn("stream opportunistic reconnect failed", "err", err)
	c.reconnectLoop()
}

func (c *Client) clearReconnecting() {
	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
}
