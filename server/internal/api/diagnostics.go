package api

import "fmt"

// DiagnosticHint is one human-readable insight about the server's state,
// shown by the dashboard next to the health badge.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// serverStats is the input to computeDiagnostics.
type serverStats struct {
	connections  int
	orgs         int
	cachedEvents int
	firing       int
	critical     int
}

// computeDiagnostics derives hints from the server's live counters.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(s serverStats) []DiagnosticHint {
	var hints []DiagnosticHint

	if s.critical > 0 {
		v := float64(s.critical)
		hints = append(hints, DiagnosticHint{
			Key:   "critical_alerts",
			Level: "critical",
			Title: fmt.Sprintf("%d critical alerts", s.critical),
			Detail: "At least one critical alert rule is firing for an organization. " +
				"Open the alerts list to see which org and rule.",
			Value: &v,
		})
	}

	if warn := s.firing - s.critical; warn > 0 {
		v := float64(warn)
		hints = append(hints, DiagnosticHint{
			Key:    "alerts_firing",
			Level:  "warning",
			Title:  fmt.Sprintf("%d alerts firing", warn),
			Detail: "Event rates crossed a configured threshold for some organizations.",
			Value:  &v,
		})
	}

	if s.connections == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_dashboards",
			Level: "info",
			Title: "No dashboards connected",
			Detail: "No WebSocket clients are connected, so broadcasts reach nobody. " +
				"This is normal outside business hours.",
		})
	}

	if s.cachedEvents == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_recent_events",
			Level: "info",
			Title: "No recent events",
			Detail: "Nothing has been ingested within the cache TTL. Check that the " +
				"persistence layer is publishing to this server.",
		})
	}

	if len(hints) == 0 {
		v := float64(s.orgs)
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All good",
			Detail: fmt.Sprintf("Events are flowing for %d organizations and no alert is firing.", s.orgs),
			Value:  &v,
		})
	}
	return hints
}

// overallState returns the worst level among hints, mapped to a health state.
func overallState(hints []DiagnosticHint) string {
	state := "ok"
	for _, h := range hints {
		switch h.Level {
		case "critical":
			return "critical"
		case "warning":
			state = "warning"
		}
	}
	return state
}
