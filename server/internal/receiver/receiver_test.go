package receiver_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shoplens/shoplens/pkg/ingest"
	"github.com/shoplens/shoplens/server/internal/auth"
	"github.com/shoplens/shoplens/server/internal/receiver"
	"github.com/shoplens/shoplens/server/internal/store"
	"github.com/shoplens/shoplens/server/internal/ws"
)

// recorder is a Broadcaster and Observer that remembers every call.
type recorder struct {
	mu       sync.Mutex
	channels [][]string
	users    []string
	observed []*ingest.Event
	perCall  int
}

func (r *recorder) BroadcastToChannels(payload any, channels []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channels)
	return r.perCall
}

func (r *recorder) BroadcastToUser(userID string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return r.perCall
}

func (r *recorder) Observe(ev *ingest.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, ev)
}

// startServer starts a gRPC server with the given interceptor and returns a
// connected client. Uses a random TCP port.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor, hub receiver.Broadcaster, obs receiver.Observer) (*ingest.Client, *store.Store) {
	t.Helper()

	st := store.New(5*time.Minute, 50)
	rec := receiver.New(st, hub, obs, nil)

	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	ingest.RegisterIngestServer(srv, rec)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return ingest.NewClient(conn), st
}

// allowAll is a no-op interceptor that passes every call through.
func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func TestPublish_StoresAndBroadcasts(t *testing.T) {
	rec := &recorder{perCall: 3}
	client, st := startServer(t, allowAll, rec, rec)

	resp, err := client.Publish(context.Background(), &ingest.Event{
		OrgID:    "42",
		Table:    "orders",
		Channels: []string{"dashboard:sales"},
		Data:     json.RawMessage(`{"total":19.99}`),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !resp.OK || resp.Delivered != 3 {
		t.Errorf("response: got %+v, want ok with 3 delivered", resp)
	}

	entries := st.List("42", 0)
	if len(entries) != 1 {
		t.Fatalf("store.List: got %d entries, want 1", len(entries))
	}
	if entries[0].Event.OccurredAt.IsZero() {
		t.Error("OccurredAt: not stamped on receipt")
	}

	want := [][]string{{"org:42", "table:orders", "dashboard:sales"}}
	if !reflect.DeepEqual(rec.channels, want) {
		t.Errorf("channels: got %v, want %v", rec.channels, want)
	}
	if len(rec.users) != 0 {
		t.Errorf("user broadcasts: got %v, want none", rec.users)
	}
	if len(rec.observed) != 1 {
		t.Errorf("observer calls: got %d, want 1", len(rec.observed))
	}
}

func TestPublish_UserTargetAddsUserBroadcast(t *testing.T) {
	rec := &recorder{perCall: 1}
	client, _ := startServer(t, allowAll, rec, nil)

	resp, err := client.Publish(context.Background(), &ingest.Event{OrgID: "1", Table: "carts", UserID: "alice"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if resp.Delivered != 2 {
		t.Errorf("Delivered: got %d, want 2", resp.Delivered)
	}
	if !reflect.DeepEqual(rec.users, []string{"alice"}) {
		t.Errorf("users: got %v, want [alice]", rec.users)
	}
}

func TestPublish_MissingFields_InvalidArgument(t *testing.T) {
	rec := &recorder{}
	client, st := startServer(t, allowAll, rec, rec)

	for _, ev := range []*ingest.Event{{}, {OrgID: "1"}, {Table: "orders"}} {
		_, err := client.Publish(context.Background(), ev)
		if code := status.Code(err); code != codes.InvalidArgument {
			t.Errorf("Publish(%+v): code got %v, want InvalidArgument", ev, code)
		}
	}
	if st.Count() != 0 || len(rec.channels) != 0 || len(rec.observed) != 0 {
		t.Error("rejected events must not be stored, broadcast or observed")
	}
}

func TestPublish_WithAPIKeyInterceptor_CorrectKey_Passes(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")
	client, st := startServer(t, i, &recorder{}, nil)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "testkey")
	if _, err := client.Publish(ctx, &ingest.Event{OrgID: "1", Table: "orders"}); err != nil {
		t.Fatalf("Publish with correct key: %v", err)
	}
	if st.Count() != 1 {
		t.Errorf("store.Count: got %d, want 1", st.Count())
	}
}

func TestPublish_WithAPIKeyInterceptor_WrongKey_Rejected(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")
	client, st := startServer(t, i, &recorder{}, nil)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "wrongkey")
	_, err := client.Publish(ctx, &ingest.Event{OrgID: "1", Table: "orders"})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
	if st.Count() != 0 {
		t.Errorf("store.Count: got %d, want 0", st.Count())
	}
}

func TestPublish_WithAPIKeyInterceptor_MissingKey_Rejected(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")
	client, _ := startServer(t, i, &recorder{}, nil)

	_, err := client.Publish(context.Background(), &ingest.Event{OrgID: "1", Table: "orders"})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
}

func TestPublish_ReachesSubscribedSocket(t *testing.T) {
	hub := ws.New(ws.Options{Greeting: "hi"})
	srv := httptest.NewServer(hub.Gateway(nil))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() map[string]interface{} {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m map[string]interface{}
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return m
	}
	read() // connected
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channels":["org:42"]}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	read() // subscribed

	client, _ := startServer(t, allowAll, hub, nil)
	resp, err := client.Publish(context.Background(), &ingest.Event{
		OrgID:  "42",
		Table:  "events",
		Action: "UPDATE",
		Data:   json.RawMessage(`{"page":"/checkout"}`),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if resp.Delivered != 1 {
		t.Errorf("Delivered: got %d, want 1", resp.Delivered)
	}

	m := read()
	if m["action"] != "UPDATE" || m["table"] != "events" {
		t.Errorf("payload: got %v", m)
	}
	if data, _ := m["data"].(map[string]interface{}); data["page"] != "/checkout" {
		t.Errorf("data: got %v", m["data"])
	}
}
