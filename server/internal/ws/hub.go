package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shoplens/shoplens/server/internal/metrics"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultPath            = "/ws"
	defaultSendBuffer      = 64
	defaultMaxMessageBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	// Path is the only route the Gateway upgrades (default /ws).
	Path string

	// Greeting is the message of the `connected` frame.
	Greeting string

	// SendBuffer is the per-connection outbound queue depth (default 64).
	SendBuffer int

	// MaxMessageBytes caps inbound frame size (default 4096).
	MaxMessageBytes int64

	Metrics *metrics.Metrics
}

// Hub owns the connection registry and serves dashboard sockets. Construct
// one per process with New and hand it to whatever needs to broadcast.
type Hub struct {
	path     string
	maxBytes int64
	reg      *Registry
	dispatch *Dispatcher
	metrics  *metrics.Metrics
}

// New creates a Hub with an empty registry.
func New(opts Options) *Hub {
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	reg := NewRegistry(opts.SendBuffer, opts.Greeting, opts.Metrics)
	return &Hub{
		path:     opts.Path,
		maxBytes: opts.MaxMessageBytes,
		reg:      reg,
		dispatch: NewDispatcher(reg, opts.Metrics),
		metrics:  opts.Metrics,
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	if n := h.reg.closeAll(); n > 0 {
		slog.Info("ws: closed connections on shutdown", "count", n)
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The `connected` frame is queued before any inbound frame is read. Blocks
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		h.metrics.UpgradeRejected("handshake")
		return
	}

	c := h.reg.Register(conn)
	defer h.reg.Unregister(c.id)

	go c.writePump(conn)
	h.readPump(c, conn) // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	return h.reg.Size()
}

// Connections returns a diagnostic summary of every live connection.
func (h *Hub) Connections() []ConnectionSummary {
	return h.reg.Snapshot()
}

// SetGreeting changes the `connected` message for future connections.
func (h *Hub) SetGreeting(greeting string) {
	h.reg.SetGreeting(greeting)
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	return h.reg
}

// writePump drains the connection's queue to the socket and sends periodic
// pings. It exits when the queue is closed or a write fails; either way the
// socket is closed, which ends readPump and unregisters the connection.
func (c *Connection) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Queue closed: unregistered or hub shutting down.
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("ws: write failed", "conn_id", c.id, "err", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames and hands each to the dispatcher. Blocks until
// the connection closes.
func (h *Hub) readPump(c *Connection, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(h.maxBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: connection lost", "conn_id", c.id, "err", err)
			}
			return
		}
		h.dispatch.Dispatch(c.id, data)
	}
}
