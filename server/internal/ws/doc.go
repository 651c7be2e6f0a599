// Package ws implements the realtime fan-out layer of shoplens-server: the
// WebSocket hub that multiplexes live analytics events to dashboard clients.
//
// New(opts) creates a Hub. Hub.Gateway(next) wraps the shared HTTP handler:
// upgrades on opts.Path are served, upgrades on any other path have their
// socket closed without a response, and plain requests go to next.
// Hub.Run(ctx) blocks until ctx is cancelled, then closes all connections.
//
// Every socket is recorded in the Registry under an opaque id with an empty
// subscription set and no identity, and immediately receives
//
//	{"type": "connected", "message": "<greeting>"}
//
// Client control frames (JSON text):
//
//	{"type": "subscribe",   "channels": ["org:42"]}  -> {"type": "subscribed",   "channels": <full set>}
//	{"type": "unsubscribe", "channels": ["org:42"]}  -> {"type": "unsubscribed", "channels": <as requested>}
//	{"type": "auth",        "userId": "alice"}       -> {"type": "authenticated", "userId": "alice"}
//	{"type": "ping"}                                 -> {"type": "pong"}
//
// Anything else, including non-JSON, is dropped without a reply and without
// closing the socket.
//
// Hub.BroadcastAll, BroadcastToChannels and BroadcastToUser encode a payload
// once and queue it for every matching open connection. Delivery is
// best-effort and at most once; a connection whose queue is full is dropped.
// Frames to a single connection keep the order in which they were queued.
package ws
