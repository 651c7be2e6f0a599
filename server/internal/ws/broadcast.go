package ws

import (
	"encoding/json"
	"log/slog"
)

// BroadcastAll queues payload for every live connection and returns the
// number of recipients. payload is encoded once; json.RawMessage passes
// through unchanged. Failures are logged per connection and never returned.
func (h *Hub) BroadcastAll(payload any) int {
	return h.broadcast("all", payload, func(*Connection) bool { return true })
}

// BroadcastToChannels queues payload for every connection subscribed to at
// least one of channels. An empty channel list behaves as BroadcastAll.
func (h *Hub) BroadcastToChannels(payload any, channels []string) int {
	if len(channels) == 0 {
		return h.BroadcastAll(payload)
	}
	return h.broadcast("channels", payload, func(c *Connection) bool {
		return c.subscribedToAny(channels)
	})
}

// BroadcastToUser queues payload for every connection authenticated as
// userID. Unauthenticated connections never match.
func (h *Hub) BroadcastToUser(userID string, payload any) int {
	if userID == "" {
		return 0
	}
	return h.broadcast("user", payload, func(c *Connection) bool {
		return c.userID == userID
	})
}

func (h *Hub) broadcast(target string, payload any, match func(*Connection) bool) int {
	frame, err := json.Marshal(payload)
	if err != nil {
		slog.Error("ws: encode broadcast payload", "target", target, "err", err)
		return 0
	}

	n := h.reg.fanout(frame, match)
	h.metrics.Broadcast(target, n)
	h.metrics.FrameSent("broadcast", n)
	slog.Debug("ws: broadcast", "target", target, "recipients", n, "bytes", len(frame))
	return n
}
