// Package ws is the websocket transport of the quiz server.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
)

// Sink receives what clients send. Both methods may block until the session
// loop accepts the event.
type Sink interface {
	Deliver(ctx context.Context, conn domain.Conn, raw []byte)
	Disconnect(ctx context.Context, conn domain.Conn)
}

type Config struct {
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	// AllowedOrigins lists the hosts browsers may connect from. Empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}

// Handler upgrades HTTP requests and pumps frames between sockets and the sink.
type Handler struct {
	sink     Sink
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

func NewHandler(sink Sink, cfg Config) *Handler {
	cfg = cfg.withDefaults()

	h := &Handler{
		sink:  sink,
		cfg:   cfg,
		conns: make(map[string]*Conn),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "ws: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), ws, h.cfg)
	h.track(c)
	defer h.untrack(c)

	slog.DebugContext(r.Context(), "ws: connection opened", "conn", c.id, "remote", r.RemoteAddr)

	// The read pump runs on the request goroutine so ctx stays live while it reads.
	ctx := r.Context()
	go c.writePump(ctx)
	c.readPump(ctx, h.sink)

	slog.DebugContext(ctx, "ws: connection closed", "conn", c.id)
}

// Connections returns the number of open sockets.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every socket and waits for their handlers to return.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for _, c := range h.conns {
		c.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) track(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.wg.Add(1)
	h.conns[c.id] = c
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.id)
	h.wg.Done()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range h.cfg.AllowedOrigins {
		if u.Host == allowed {
			return true
		}
	}

	return false
}
