package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one client websocket. Outbound frames go through a buffered channel
// drained by the write pump, so Send never blocks the session loop.
type Conn struct {
	id   string
	ws   *websocket.Conn
	cfg  Config
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn(id string, ws *websocket.Conn, cfg Config) *Conn {
	return &Conn{
		id:   id,
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Send queues msg. It returns false when the connection is closed or its
// buffer is full.
func (c *Conn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close flushes queued frames and then closes the socket.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.DebugContext(ctx, "ws: write failed", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.DebugContext(ctx, "ws: ping failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, sink Sink) {
	defer func() {
		sink.Disconnect(ctx, c)
		c.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "ws: unexpected close", "conn", c.id, "error", err)
			}
			return
		}

		if typ != websocket.TextMessage {
			continue
		}

		sink.Deliver(ctx, c, msg)
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}
