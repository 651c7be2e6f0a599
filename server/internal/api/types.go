package api

import (
	"github.com/shoplens/shoplens/server/internal/store"
	"github.com/shoplens/shoplens/server/internal/ws"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" | "warning" | "critical", the worst level among Diagnostics.
	State        string           `json:"state"`
	Connections  int              `json:"connections"`
	Orgs         int              `json:"orgs"`
	CachedEvents int              `json:"cached_events"`
	AlertCount   int              `json:"alert_count"`
	Uptime       string           `json:"uptime"`
	Diagnostics  []DiagnosticHint `json:"diagnostics"`
	GeneratedAt  string           `json:"generated_at"` // RFC3339
}

// ConnectionsResponse is the payload for GET /api/v1/connections.
type ConnectionsResponse struct {
	Count       int                    `json:"count"`
	Connections []ws.ConnectionSummary `json:"connections"`
}

// EventsResponse is the payload for GET /api/v1/orgs/{orgID}/events.
type EventsResponse struct {
	OrgID  string         `json:"org_id"`
	Events []*store.Entry `json:"events"`
}

// PublishResponse is the payload for POST /api/v1/events.
type PublishResponse struct {
	OK        bool `json:"ok"`
	Delivered int  `json:"delivered"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
