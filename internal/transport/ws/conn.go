// Package ws adapts gorilla websocket connections to the presence layer: one reader,
// one writer goroutine and a bounded FIFO send buffer per connection.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/lexchat/internal/errs"
)

var (
	// ErrClosed is returned by Send after the connection started closing.
	ErrClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the peer is not draining frames.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Config holds per-connection transport settings.
type Config struct {
	ReadTimeout     time.Duration // max silence before the peer is considered gone
	WriteTimeout    time.Duration
	PingInterval    time.Duration // must be below ReadTimeout
	SendBuffer      int
	MaxMessageBytes int64
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

// Conn is a single websocket connection safe for concurrent Send and Close.
type Conn struct {
	id  string
	ws  *websocket.Conn
	cfg Config
	log *zap.Logger

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	reason    error
}

// New wraps an upgraded websocket connection.
func New(wsConn *websocket.Conn, cfg Config, log *zap.Logger) *Conn {
	cfg = cfg.withDefaults()
	id := uuid.Must(uuid.NewV4()).String()
	return &Conn{
		id:   id,
		ws:   wsConn,
		cfg:  cfg,
		log:  log.Named("ws").With(zap.String("conn", id)),
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Send queues a frame without blocking.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close starts shutting the connection down. Only the first reason is kept.
func (c *Conn) Close(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Reason returns the error passed to the first Close call.
func (c *Conn) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Serve runs the read loop on the calling goroutine and the write loop on another.
// Every complete text or binary message is passed to onMessage. When both loops have
// exited, onClose is called with the close reason.
func (c *Conn) Serve(onMessage func([]byte), onClose func(error)) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(onMessage)
	<-writerDone

	reason := c.Reason()
	c.log.Debug("connection closed", zap.Error(reason))
	if onClose != nil {
		onClose(reason)
	}
}

func (c *Conn) readPump(onMessage func([]byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.Close(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(err)
				return
			}
		case <-c.done:
			c.drain()
			code, text := closeCode(c.Reason())
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}

// drain flushes frames queued before Close so a rejection can still carry its snapshot.
func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(typ int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(typ, data)
}

// closeCode maps a close reason to a websocket close status.
func closeCode(reason error) (int, string) {
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(reason, errs.ErrHandshakeRejected):
		return websocket.ClosePolicyViolation, "missing userId"
	case errors.Is(reason, errs.ErrConnectionCycled):
		return websocket.ClosePolicyViolation, "connection limit"
	case errors.Is(reason, ErrSendBufferFull):
		return websocket.CloseTryAgainLater, "slow consumer"
	case websocket.IsCloseError(reason, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return websocket.CloseNormalClosure, ""
	default:
		return websocket.CloseGoingAway, ""
	}
}
