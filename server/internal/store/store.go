package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shoplens/shoplens/pkg/ingest"
)

// DefaultPerOrg is the ring size used when New is given a non-positive cap.
const DefaultPerOrg = 200

// Entry is an ingested event together with the time it was received.
type Entry struct {
	Event      *ingest.Event `json:"event"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Store is a thread-safe in-memory cache of recently ingested events, keyed
// by organization. Each org keeps at most perOrg entries, oldest discarded
// first. A background goroutine (Run) periodically evicts entries older than
// the configured TTL. A TTL of zero disables eviction.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]*Entry // oldest first
	ttl    time.Duration
	perOrg int
	now    func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL and per-org cap.
func New(ttl time.Duration, perOrg int) *Store {
	if perOrg <= 0 {
		perOrg = DefaultPerOrg
	}
	return &Store{
		data:   make(map[string][]*Entry),
		ttl:    ttl,
		perOrg: perOrg,
		now:    time.Now,
	}
}

// Put appends ev to its org's ring. Callers must not modify ev after calling
// Put. Events without an org are ignored.
func (s *Store) Put(ev *ingest.Event) {
	if ev == nil || ev.OrgID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.data[ev.OrgID], &Entry{Event: ev, ReceivedAt: s.now()})
	if over := len(ring) - s.perOrg; over > 0 {
		// Copy so the dropped prefix does not pin the backing array.
		ring = append([]*Entry(nil), ring[over:]...)
	}
	s.data[ev.OrgID] = ring
}

// List returns up to limit live entries for orgID, newest first. A
// non-positive limit returns every live entry. Stale entries that have not yet
// been evicted are excluded.
func (s *Store) List(orgID string, limit int) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.data[orgID]
	out := make([]*Entry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		if !s.live(ring[i], s.now()) {
			break
		}
		out = append(out, ring[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Orgs returns the number of organizations with at least one held entry.
func (s *Store) Orgs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ring := range s.data {
		n += len(ring)
	}
	return n
}

// Evict removes entries whose ReceivedAt is older than now minus TTL and drops
// orgs left empty. It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for org, ring := range s.data {
		// Rings are in arrival order, so stale entries form a prefix.
		i := 0
		for i < len(ring) && !s.live(ring[i], now) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(ring) {
			delete(s.data, org)
			continue
		}
		s.data[org] = append([]*Entry(nil), ring[i:]...)
	}
	return removed
}

func (s *Store) live(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.ReceivedAt.After(now.Add(-s.ttl))
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so entries are evicted promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale events", "count", n)
			}
		}
	}
}
