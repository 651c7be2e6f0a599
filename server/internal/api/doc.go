// Package api implements the HTTP REST API for shoplens-server.
//
// New(deps) returns a chi router that serves:
//
//	GET  /api/v1/health               live counters, state and diagnostic hints
//	GET  /api/v1/connections          one summary per connected dashboard socket
//	GET  /api/v1/alerts               firing and recently resolved alerts
//	GET  /api/v1/orgs/{orgID}/events  recent events for an org, newest first (?limit=N)
//	POST /api/v1/events               ingest an event over HTTP; 202 {ok, delivered}
//	GET  /metrics                     Prometheus exposition, when deps.Metrics is set
//
// Responses are JSON, including 404 and 405 bodies. POST /api/v1/events is
// wrapped in deps.Auth (the API key middleware) when set.
package api
