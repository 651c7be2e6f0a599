package ws

import (
	"encoding/json"
	"log/slog"

	"github.com/shoplens/shoplens/server/internal/metrics"
)

// Dispatcher routes inbound frames from one connection to registry mutations
// and writes the reply back to that connection only.
type Dispatcher struct {
	reg     *Registry
	metrics *metrics.Metrics
}

// NewDispatcher returns a Dispatcher operating on reg. m may be nil.
func NewDispatcher(reg *Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{reg: reg, metrics: m}
}

// Dispatch handles one frame received on connection id. Malformed frames,
// unknown types and frames from unregistered connections are discarded
// without a reply; nothing here closes the connection.
func (d *Dispatcher) Dispatch(id string, data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		d.metrics.FrameMalformed()
		slog.Debug("ws: discarding malformed frame", "conn_id", id, "err", err)
		return
	}

	var reply any
	switch m := msg.(type) {
	case Subscribe:
		d.metrics.FrameReceived(TypeSubscribe)
		all, ok := d.reg.AddSubscriptions(id, m.Channels)
		if !ok {
			return
		}
		reply = ChannelsFrame{Type: TypeSubscribed, Channels: all}

	case Unsubscribe:
		d.metrics.FrameReceived(TypeUnsubscribe)
		if !d.reg.RemoveSubscriptions(id, m.Channels) {
			return
		}
		reply = ChannelsFrame{Type: TypeUnsubscribed, Channels: m.Channels}

	case Auth:
		d.metrics.FrameReceived(TypeAuth)
		if !d.reg.SetIdentity(id, m.UserID) {
			return
		}
		reply = AuthenticatedFrame{Type: TypeAuthenticated, UserID: m.UserID}

	case Ping:
		d.metrics.FrameReceived(TypePing)
		if _, ok := d.reg.Get(id); !ok {
			return
		}
		reply = PongFrame{Type: TypePong}

	case Unknown:
		d.metrics.FrameReceived("unknown")
		slog.Debug("ws: ignoring frame", "conn_id", id, "type", m.Type, "reason", m.Reason)
		return
	}

	d.reply(id, reply)
}

func (d *Dispatcher) reply(id string, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		slog.Error("ws: encode reply", "conn_id", id, "err", err)
		return
	}
	if err := d.reg.Send(id, frame); err != nil {
		slog.Debug("ws: reply not delivered", "conn_id", id, "err", err)
		return
	}
	d.metrics.FrameSent("reply", 1)
}
