package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shoplens/shoplens/pkg/ingest"
	"github.com/shoplens/shoplens/server/internal/alerts"
	"github.com/shoplens/shoplens/server/internal/receiver"
	"github.com/shoplens/shoplens/server/internal/store"
	"github.com/shoplens/shoplens/server/internal/ws"
)

// maxEventBytes caps the body of POST /api/v1/events.
const maxEventBytes = 1 << 20

// Hub is the read side of the socket hub the API reports on.
type Hub interface {
	Count() int
	Connections() []ws.ConnectionSummary
}

// Ingester accepts events posted over HTTP.
type Ingester interface {
	Ingest(ev *ingest.Event, transport string) (int, error)
}

// AlertLister returns firing and recently resolved alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Deps are the components the API reads from. Auth guards the ingest route
// and Metrics serves /metrics; both may be nil.
type Deps struct {
	Store   *store.Store
	Hub     Hub
	Ingest  Ingester
	Alerts  AlertLister
	Auth    func(http.Handler) http.Handler
	Metrics http.Handler
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps    Deps
	started time.Time
	now     func() time.Time
}

// New creates the router for the REST API and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, started: time.Now(), now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/connections", h.connections)
		r.Get("/alerts", h.alerts)
		r.Get("/orgs/{orgID}/events", h.orgEvents)
		r.Group(func(r chi.Router) {
			if d.Auth != nil {
				r.Use(d.Auth)
			}
			r.Post("/events", h.publish)
		})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return r
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: live counters plus diagnostic hints.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats := serverStats{
		connections:  h.deps.Hub.Count(),
		orgs:         h.deps.Store.Orgs(),
		cachedEvents: h.deps.Store.Count(),
	}
	alertCount := 0
	if h.deps.Alerts != nil {
		for _, a := range h.deps.Alerts.Active() {
			alertCount++
			if a.State != alerts.StateFiring {
				continue
			}
			stats.firing++
			if a.Severity == "critical" {
				stats.critical++
			}
		}
	}

	hints := computeDiagnostics(stats)
	now := h.now()
	jsonResp(w, http.StatusOK, HealthResponse{
		State:        overallState(hints),
		Connections:  stats.connections,
		Orgs:         stats.orgs,
		CachedEvents: stats.cachedEvents,
		AlertCount:   alertCount,
		Uptime:       now.Sub(h.started).Truncate(time.Second).String(),
		Diagnostics:  hints,
		GeneratedAt:  now.UTC().Format(time.RFC3339),
	})
}

// connections returns GET /api/v1/connections: one summary per live socket.
func (h *Handler) connections(w http.ResponseWriter, r *http.Request) {
	conns := h.deps.Hub.Connections()
	if conns == nil {
		conns = []ws.ConnectionSummary{}
	}
	jsonResp(w, http.StatusOK, ConnectionsResponse{Count: len(conns), Connections: conns})
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	out := []*alerts.Alert{}
	if h.deps.Alerts != nil {
		out = append(out, h.deps.Alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// orgEvents returns GET /api/v1/orgs/{orgID}/events?limit=N, newest first.
func (h *Handler) orgEvents(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	jsonResp(w, http.StatusOK, EventsResponse{
		OrgID:  orgID,
		Events: h.deps.Store.List(orgID, limit),
	})
}

// publish handles POST /api/v1/events: the HTTP twin of IngestService/Publish.
func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "event too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	n, err := h.deps.Ingest.Ingest(&ev, receiver.TransportHTTP)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusAccepted, PublishResponse{OK: true, Delivered: n})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
