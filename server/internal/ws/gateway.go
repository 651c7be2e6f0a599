package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Gateway returns a handler for the shared HTTP listener. Requests on the
// hub's path are served by the hub. Upgrade requests on any other path are
// refused by closing the raw socket without writing a response. Everything
// else is passed to next (404 when next is nil).
func (h *Hub) Gateway(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == h.path:
			h.ServeHTTP(w, r)
		case websocket.IsWebSocketUpgrade(r):
			h.refuse(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// refuse destroys the underlying connection of an upgrade on an unknown route.
func (h *Hub) refuse(w http.ResponseWriter, r *http.Request) {
	h.metrics.UpgradeRejected("route")
	slog.Debug("ws: refusing upgrade on unknown route",
		"path", r.URL.Path, "remote", r.RemoteAddr)

	hj, ok := w.(http.Hijacker)
	if !ok {
		// HTTP/2 and test recorders cannot be hijacked.
		http.NotFound(w, r)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}
