package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shoplens/shoplens/server/internal/metrics"
)

var (
	// ErrConnectionClosed is returned by Send when the connection is not
	// registered or has already left the open state.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned by Send when the connection's outbound
	// queue is full. The connection is dropped before Send returns.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Registry tracks every live connection and its state, keyed by an opaque
// id generated at registration. It is safe for concurrent use; each method
// runs atomically with respect to every other.
type Registry struct {
	sendBuffer int
	metrics    *metrics.Metrics
	now        func() time.Time // injectable for deterministic tests

	mu       sync.RWMutex
	conns    map[string]*Connection
	greeting string
	shut     bool // set by closeAll; later registrations are refused
}

// NewRegistry creates an empty Registry. sendBuffer is the per-connection
// outbound queue depth; values below 1 are raised to 1 so the welcome frame
// always fits. m may be nil.
func NewRegistry(sendBuffer int, greeting string, m *metrics.Metrics) *Registry {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &Registry{
		sendBuffer: sendBuffer,
		metrics:    m,
		now:        time.Now,
		conns:      make(map[string]*Connection),
		greeting:   greeting,
	}
}

// SetGreeting changes the message sent in future `connected` frames.
func (r *Registry) SetGreeting(greeting string) {
	r.mu.Lock()
	r.greeting = greeting
	r.mu.Unlock()
}

// Register records a new connection for t with no identity and no
// subscriptions, and queues the `connected` welcome frame. After closeAll the
// returned connection is never registered and its queue is already closed, so
// its write pump closes the socket straight away.
func (r *Registry) Register(t Transport) *Connection {
	c := &Connection{
		id:          uuid.NewString(),
		transport:   t,
		send:        make(chan []byte, r.sendBuffer),
		connectedAt: r.now(),
	}

	r.mu.Lock()
	if r.shut {
		c.closed = true
		close(c.send)
		r.mu.Unlock()
		slog.Debug("ws: registration refused after shutdown", "conn_id", c.id)
		return c
	}
	welcome, _ := json.Marshal(ConnectedFrame{Type: TypeConnected, Message: r.greeting})
	c.send <- welcome // queue is empty and has room for one frame
	r.conns[c.id] = c
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	r.metrics.FrameSent("reply", 1)
	slog.Debug("ws: connection registered", "conn_id", c.id, "connections", n)
	return c
}

// Unregister removes the connection and closes its outbound queue. It reports
// whether anything was removed; unknown or already-removed ids are a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		c.closed = true
		close(c.send)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.metrics.ConnectionClosed()
	slog.Debug("ws: connection unregistered", "conn_id", id, "connections", n)
	return true
}

// Get returns the connection for id. Absence is a normal outcome.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Size returns the number of live connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns a summary of every live connection, oldest first.
func (r *Registry) Snapshot() []ConnectionSummary {
	r.mu.RLock()
	out := make([]ConnectionSummary, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.summary())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Send queues frame for one connection. A full queue drops the connection.
func (r *Registry) Send(id string, frame []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	err := ErrConnectionClosed
	if ok {
		err = c.enqueue(frame)
	}
	r.mu.RUnlock()

	switch {
	case err == nil:
	case errors.Is(err, ErrSendBufferFull):
		r.drop(c)
	default:
		r.metrics.SendFailed("closed")
	}
	return err
}

// SetIdentity records userID on the connection; last write wins. It reports
// whether the connection was found.
func (r *Registry) SetIdentity(id, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.userID = userID
	return true
}

// AddSubscriptions unions channels into the connection's set and returns the
// resulting full set, sorted.
func (r *Registry) AddSubscriptions(id string, channels []string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	c.subs.add(channels)
	return c.subs.list(), true
}

// RemoveSubscriptions subtracts channels from the connection's set.
func (r *Registry) RemoveSubscriptions(id string, channels []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.subs.remove(channels)
	return true
}

// Subscriptions returns the connection's current set, sorted.
func (r *Registry) Subscriptions(id string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c.subs.list(), true
}

// fanout queues frame for every live connection accepted by match and returns
// how many accepted it. Connections with a full queue are dropped.
func (r *Registry) fanout(frame []byte, match func(*Connection) bool) int {
	var (
		delivered int
		full      []*Connection
	)

	r.mu.RLock()
	for _, c := range r.conns {
		if !match(c) {
			continue
		}
		switch err := c.enqueue(frame); {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSendBufferFull):
			full = append(full, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range full {
		r.drop(c)
	}
	return delivered
}

// drop removes a connection whose queue overflowed and closes its socket so
// a writer blocked on a slow peer is released.
func (r *Registry) drop(c *Connection) {
	r.metrics.SendFailed("buffer_full")
	if !r.Unregister(c.id) {
		return
	}
	slog.Warn("ws: outbound queue full, dropping connection",
		"conn_id", c.id, "queue", r.sendBuffer)
	if c.transport != nil {
		c.transport.Close() //nolint:errcheck
	}
}

// closeAll unregisters every connection and refuses any registered later.
// Their write pumps send a close frame and exit.
func (r *Registry) closeAll() int {
	r.mu.Lock()
	r.shut = true
	n := len(r.conns)
	for id, c := range r.conns {
		c.closed = true
		close(c.send)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for i := 0; i < n; i++ {
		r.metrics.ConnectionClosed()
	}
	return n
}
