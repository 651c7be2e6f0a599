package ws

import (
	"net"
	"sort"
	"time"
)

// Transport is the socket handle a Connection owns. *websocket.Conn satisfies it.
type Transport interface {
	Close() error
	RemoteAddr() net.Addr
}

// Connection is the registry's record for one live socket.
//
// Every field except id, transport, send and connectedAt is guarded by the
// owning Registry's mutex; callers reach them only through Registry methods.
type Connection struct {
	id          string
	transport   Transport
	send        chan []byte
	connectedAt time.Time

	userID string
	subs   subscriptionSet
	closed bool
}

// ID returns the opaque identifier assigned at registration.
func (c *Connection) ID() string { return c.id }

// enqueue queues frame without blocking. The caller holds the registry lock
// (read or write); close(c.send) only happens under the write lock.
func (c *Connection) enqueue(frame []byte) error {
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// subscribedToAny reports whether the connection's set intersects channels.
func (c *Connection) subscribedToAny(channels []string) bool {
	for _, ch := range channels {
		if c.subs.has(ch) {
			return true
		}
	}
	return false
}

// ConnectionSummary is a read-only view of a Connection for diagnostics.
type ConnectionSummary struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id,omitempty"`
	Subscriptions []string  `json:"subscriptions"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
}

func (c *Connection) summary() ConnectionSummary {
	s := ConnectionSummary{
		ID:            c.id,
		UserID:        c.userID,
		Subscriptions: c.subs.list(),
		ConnectedAt:   c.connectedAt,
	}
	if c.transport != nil {
		if addr := c.transport.RemoteAddr(); addr != nil {
			s.RemoteAddr = addr.String()
		}
	}
	return s
}

// subscriptionSet is a set of channel keys. The zero value is ready to use.
type subscriptionSet map[string]struct{}

// add unions channels into the set. Duplicates collapse.
func (s *subscriptionSet) add(channels []string) {
	if *s == nil {
		*s = make(subscriptionSet, len(channels))
	}
	for _, ch := range channels {
		(*s)[ch] = struct{}{}
	}
}

// remove subtracts channels from the set. Absent channels are ignored.
func (s subscriptionSet) remove(channels []string) {
	for _, ch := range channels {
		delete(s, ch)
	}
}

func (s subscriptionSet) has(ch string) bool {
	_, ok := s[ch]
	return ok
}

// list returns the members in sorted order, never nil.
func (s subscriptionSet) list() []string {
	out := make([]string, 0, len(s))
	for ch := range s {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
