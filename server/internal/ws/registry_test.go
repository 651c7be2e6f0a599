package ws

import (
	"encoding/json"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeTransport records Close calls.
type fakeTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// drain returns every frame currently queued for c, decoded.
func drain(t *testing.T, c *Connection) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]interface{}
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("unmarshal queued frame %s: %v", b, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestRegister_QueuesWelcome(t *testing.T) {
	r := NewRegistry(4, "hello", nil)
	c := r.Register(&fakeTransport{})

	frames := drain(t, c)
	if len(frames) != 1 {
		t.Fatalf("queued frames: got %d, want 1", len(frames))
	}
	if frames[0]["type"] != "connected" || frames[0]["message"] != "hello" {
		t.Errorf("welcome: got %v", frames[0])
	}
	if r.Size() != 1 {
		t.Errorf("Size: got %d, want 1", r.Size())
	}
}

func TestRegister_UniqueIDs(t *testing.T) {
	r := NewRegistry(4, "", nil)
	a := r.Register(&fakeTransport{})
	b := r.Register(&fakeTransport{})
	if a.ID() == b.ID() {
		t.Errorf("ids collide: %q", a.ID())
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := NewRegistry(4, "", nil)
	c := r.Register(&fakeTransport{})
	other := r.Register(&fakeTransport{})

	if !r.Unregister(c.ID()) {
		t.Error("first Unregister: got false, want true")
	}
	if r.Unregister(c.ID()) {
		t.Error("second Unregister: got true, want false")
	}
	if r.Unregister("never-registered") {
		t.Error("Unregister unknown id: got true, want false")
	}
	if r.Size() != 1 {
		t.Errorf("Size: got %d, want 1", r.Size())
	}
	if _, ok := r.Get(other.ID()); !ok {
		t.Error("unrelated connection was removed")
	}
}

func TestGet_Missing(t *testing.T) {
	r := NewRegistry(4, "", nil)
	if _, ok := r.Get("nope"); ok {
		t.Error("Get on empty registry: got true, want false")
	}
}

func TestSubscriptions_SetSemantics(t *testing.T) {
	r := NewRegistry(4, "", nil)
	c := r.Register(&fakeTransport{})

	r.AddSubscriptions(c.ID(), []string{"a", "a", "b"})
	r.RemoveSubscriptions(c.ID(), []string{"a"})
	got, _ := r.Subscriptions(c.ID())
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("after add/remove: got %v, want [b]", got)
	}

	got, _ = r.AddSubscriptions(c.ID(), []string{"b"})
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("repeat add: got %v, want [b]", got)
	}

	r.RemoveSubscriptions(c.ID(), []string{"never"})
	got, _ = r.Subscriptions(c.ID())
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("remove absent: got %v, want [b]", got)
	}
}

func TestSubscriptions_UnknownConnection(t *testing.T) {
	r := NewRegistry(4, "", nil)
	if _, ok := r.AddSubscriptions("ghost", []string{"a"}); ok {
		t.Error("AddSubscriptions on unknown id: got true")
	}
	if r.RemoveSubscriptions("ghost", []string{"a"}) {
		t.Error("RemoveSubscriptions on unknown id: got true")
	}
	if r.SetIdentity("ghost", "u1") {
		t.Error("SetIdentity on unknown id: got true")
	}
}

func TestSend_ClosedConnection(t *testing.T) {
	r := NewRegistry(4, "", nil)
	c := r.Register(&fakeTransport{})
	r.Unregister(c.ID())

	if err := r.Send(c.ID(), []byte(`{}`)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send after Unregister: got %v, want ErrConnectionClosed", err)
	}
}

func TestSend_FullQueueDropsConnection(t *testing.T) {
	r := NewRegistry(1, "", nil)
	tr := &fakeTransport{}
	c := r.Register(tr) // welcome fills the single slot

	if err := r.Send(c.ID(), []byte(`{}`)); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("Send on full queue: got %v, want ErrSendBufferFull", err)
	}
	if r.Size() != 0 {
		t.Errorf("Size after overflow: got %d, want 0", r.Size())
	}
	if !tr.isClosed() {
		t.Error("transport not closed after overflow")
	}
}

func TestSnapshot_Summaries(t *testing.T) {
	r := NewRegistry(4, "", nil)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r.now = func() time.Time { return base.Add(time.Second) }
	second := r.Register(&fakeTransport{})
	r.now = func() time.Time { return base }
	first := r.Register(&fakeTransport{})

	r.SetIdentity(first.ID(), "u1")
	r.AddSubscriptions(first.ID(), []string{"org:2", "org:1"})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot: got %d entries, want 2", len(snap))
	}
	if snap[0].ID != first.ID() || snap[1].ID != second.ID() {
		t.Errorf("order: got %s,%s want oldest first", snap[0].ID, snap[1].ID)
	}
	if snap[0].UserID != "u1" {
		t.Errorf("UserID: got %q, want u1", snap[0].UserID)
	}
	if !reflect.DeepEqual(snap[0].Subscriptions, []string{"org:1", "org:2"}) {
		t.Errorf("Subscriptions: got %v", snap[0].Subscriptions)
	}
	if snap[1].Subscriptions == nil {
		t.Error("Subscriptions: got nil, want empty slice")
	}
	if snap[0].RemoteAddr != "127.0.0.1:40000" {
		t.Errorf("RemoteAddr: got %q", snap[0].RemoteAddr)
	}
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(4, "", nil)
	c := r.Register(&fakeTransport{})
	r.Register(&fakeTransport{})

	if n := r.closeAll(); n != 2 {
		t.Errorf("closeAll: got %d, want 2", n)
	}
	if r.Size() != 0 {
		t.Errorf("Size: got %d, want 0", r.Size())
	}
	drain(t, c)
	if _, ok := <-c.send; ok {
		t.Error("send queue still open after closeAll")
	}
}

func TestRegister_RefusedAfterCloseAll(t *testing.T) {
	r := NewRegistry(4, "hello", nil)
	r.closeAll()

	c := r.Register(&fakeTransport{})
	if r.Size() != 0 {
		t.Errorf("Size: got %d, want 0", r.Size())
	}
	if frames := drain(t, c); len(frames) != 0 {
		t.Errorf("queued frames: got %v, want none", frames)
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue open for a connection registered after closeAll")
	}
	if err := r.Send(c.ID(), []byte(`{}`)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send: got %v, want ErrConnectionClosed", err)
	}
	if r.Unregister(c.ID()) {
		t.Error("Unregister: removed a connection that was never registered")
	}
}

func TestConcurrentRegistryOps(t *testing.T) {
	r := NewRegistry(256, "", nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := r.Register(&fakeTransport{})
			r.AddSubscriptions(c.ID(), []string{"org:1"})
			r.fanout([]byte(`{}`), func(*Connection) bool { return true })
			r.Snapshot()
			r.Unregister(c.ID())
			r.Unregister(c.ID())
		}()
	}
	wg.Wait()

	if r.Size() != 0 {
		t.Errorf("Size: got %d, want 0", r.Size())
	}
}
