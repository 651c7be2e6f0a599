package alerts

import (
	"fmt"
	"strconv"
	"strings"
)

// condition is a parsed rule expression over an org's rolling one-minute
// event counts.
//
// Supported expressions (metric operator value):
//
//	events_per_min > 500      every event for the org
//	purchases_per_min < 1     events on table "purchases"
//	table:orders > 100        events on table "orders"
type condition struct {
	table     string // empty means every table
	op        string
	threshold float64
}

// parseCondition parses a rule condition string.
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"metric op value\"", s)
	}
	metric, op, rhs := parts[0], parts[1], parts[2]

	var c condition
	switch {
	case metric == "events_per_min":
	case strings.HasPrefix(metric, "table:") && len(metric) > len("table:"):
		c.table = strings.TrimPrefix(metric, "table:")
	case strings.HasSuffix(metric, "_per_min") && len(metric) > len("_per_min"):
		c.table = strings.TrimSuffix(metric, "_per_min")
	default:
		return condition{}, fmt.Errorf("condition %q: unknown metric %q", s, metric)
	}

	switch op {
	case ">", ">=", "<", "<=", "==":
		c.op = op
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, op)
	}

	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold: %w", s, err)
	}
	c.threshold = threshold
	return c, nil
}

// eval reports whether the condition fires for the given window counts and
// returns the value it was evaluated against.
func (c condition) eval(r rates) (bool, float64) {
	v := float64(r.total)
	if c.table != "" {
		v = float64(r.byTable[c.table])
	}
	return compareFloat(v, c.op, c.threshold), v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
