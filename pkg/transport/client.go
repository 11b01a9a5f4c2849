// Package transport keeps the websocket session to the bot backend alive and
// moves envelopes over it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"wepush/pkg/lifecycle"
	"wepush/pkg/logger"
	"wepush/pkg/protocol"
)

var ErrNotConnected = errors.New("backend not connected")

const (
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
	initialBackoff    = 200 * time.Millisecond
	maxBackoff        = 5 * time.Second
	closeFrameTimeout = time.Second
)

type Options struct {
	URL        string
	PlatformID string
	Token      string
}

// Client is a reconnecting websocket client. Frames received from the backend
// are handed to the OnReceive handler from the read goroutine, so the handler
// must not block for long.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	runCancel lifecycle.CancelGuard
	wg        sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(raw []byte)
	running bool

	writeMu   sync.Mutex
	connected atomic.Bool
}

func New(opts Options) *Client {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	return &Client{opts: opts, dialer: &dialer}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("platform", c.opts.PlatformID)
	if c.opts.Token != "" {
		h.Set("Authorization", c.opts.Token)
	}
	return h
}

// OnReceive registers the handler for inbound frames.
func (c *Client) OnReceive(handler func(raw []byte)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Connect dials the backend and starts the read loop. The loop, and any
// reconnects it performs, live until Disconnect or until ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	logger.InfoCF("transport", "Connecting to backend", map[string]interface{}{
		logger.FieldURL: c.opts.URL,
		"platform":      c.opts.PlatformID,
	})
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel.Set(cancel)

	c.mu.Lock()
	c.conn = conn
	c.running = true
	c.mu.Unlock()
	c.connected.Store(true)
	logger.InfoC("transport", "Backend connected")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.listen(runCtx)
	}()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to backend (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}
	return conn, nil
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send writes msg as a JSON text frame.
func (c *Client) Send(ctx context.Context, msg protocol.MessageBase) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Disconnect stops reconnecting and closes the session. Safe to call repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	logger.InfoC("transport", "Disconnecting from backend")
	c.runCancel.CancelAndClear()
	c.connected.Store(false)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeFrameTimeout))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Client) listen(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			c.reconnect(ctx)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("transport", "Backend connection lost", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
			c.dropConn(conn)
			continue
		}
		backoff = initialBackoff
		c.deliver(message)
	}
}

func (c *Client) reconnect(ctx context.Context) {
	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnCF("transport", "Backend reconnect failed", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	logger.InfoC("transport", "Backend reconnected")
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.connected.Store(false)
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) deliver(message []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("transport", "Recovered panic in receive handler", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	handler(message)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
