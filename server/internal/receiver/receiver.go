package receiver

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shoplens/shoplens/pkg/ingest"
	"github.com/shoplens/shoplens/server/internal/metrics"
	"github.com/shoplens/shoplens/server/internal/store"
)

// Transport labels for the ingested-events metric.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Broadcaster is the part of the socket hub the receiver pushes events into.
type Broadcaster interface {
	BroadcastToChannels(payload any, channels []string) int
	BroadcastToUser(userID string, payload any) int
}

// Observer is notified of every accepted event (the alert engine).
type Observer interface {
	Observe(ev *ingest.Event)
}

// Receiver implements ingest.IngestServer.
// It validates each incoming Event, records it in the recent-event store and
// fans it out to dashboard sockets.
type Receiver struct {
	store    *store.Store
	hub      Broadcaster
	observer Observer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Receiver. observer and m may be nil.
func New(st *store.Store, hub Broadcaster, observer Observer, m *metrics.Metrics) *Receiver {
	return &Receiver{
		store:    st,
		hub:      hub,
		observer: observer,
		metrics:  m,
		now:      time.Now,
	}
}

// Publish is the unary RPC handler called by the persistence layer after it
// commits an event. Authentication is enforced by the gRPC server interceptor
// before this is called.
func (r *Receiver) Publish(ctx context.Context, ev *ingest.Event) (*ingest.PublishResponse, error) {
	n, err := r.Ingest(ev, TransportGRPC)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &ingest.PublishResponse{OK: true, Delivered: n}, nil
}

// Ingest validates ev, stores it and broadcasts its payload to the org, table
// and extra channels, and to ev.UserID when set. It returns the number of
// frames queued. The HTTP ingest route shares this path.
func (r *Receiver) Ingest(ev *ingest.Event, transport string) (int, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}

	r.store.Put(ev)
	r.metrics.EventIngested(ev.Table, transport)

	payload := ev.Payload()
	channels := ev.BroadcastChannels()
	delivered := r.hub.BroadcastToChannels(payload, channels)
	if ev.UserID != "" {
		delivered += r.hub.BroadcastToUser(ev.UserID, payload)
	}

	if r.observer != nil {
		r.observer.Observe(ev)
	}

	slog.Debug("receiver: event fanned out",
		"org_id", ev.OrgID,
		"table", ev.Table,
		"action", payload.Action,
		"channels", channels,
		"delivered", delivered,
		"transport", transport,
	)
	return delivered, nil
}
