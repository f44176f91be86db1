// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is the WebSocket implementation of Handle. Outbound payloads go
// through a bounded channel drained by the write pump; a full channel marks
// the peer as a slow consumer and closes the client.
type Client struct {
	id             string
	conn           *websocket.Conn
	addr           string
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	logger         *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ Handle = (*Client)(nil)

// NewClient creates a Client for conn. conn may be nil in tests that only
// exercise the send side.
func NewClient(conn *websocket.Conn, addr string, cfg Config, logger *slog.Logger) *Client {
	cfg = SanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With("client", id, "addr", addr),
		send:           make(chan []byte, cfg.SendBuffer),
	}
}

// ID returns the client's identity.
func (c *Client) ID() string {
	return c.id
}

// SendChan exposes queued outbound payloads. Only the write pump, or a test
// standing in for it, should read from it.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrHandleClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("send buffer full; disconnecting slow client")
		c.closeLocked()
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError logs why the read loop is ending.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("message exceeded maximum size", "max_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

// allowFrame applies the per-connection rate limit.
func (c *Client) allowFrame() bool {
	if c.limiter.Allow() {
		return true
	}
	c.logger.Warn("rate limit exceeded; discarding message",
		"burst", c.rateLimit.Burst,
		"interval", c.rateLimit.RefillInterval)
	return false
}

// readPump feeds inbound frames to session until the transport fails, then
// closes the session and the client. Every way the connection can end passes
// through here, so the session always reaches its closed state.
func (c *Client) readPump(session *Session) {
	defer func() {
		session.Close()
		_ = c.Close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			session.HandleFrame(FrameBinary, payload)
			continue
		}

		if !c.allowFrame() {
			continue
		}

		session.HandleFrame(FrameText, payload)
	}
}

// writePump drains the send channel and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one outbound frame, or a close frame once the send
// channel is closed. It returns false if the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	// Each payload is its own frame: the wire format has no delimiter.
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error writing close message", "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", "error", err)
		return false
	}
	return true
}
