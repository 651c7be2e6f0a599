package ingest

import (
	"encoding/json"
	"errors"
	"time"
)

// DefaultAction is applied when an Event carries no action.
const DefaultAction = "INSERT"

var (
	// ErrMissingOrg is returned by Validate when OrgID is empty.
	ErrMissingOrg = errors.New("org_id is required")

	// ErrMissingTable is returned by Validate when Table is empty.
	ErrMissingTable = errors.New("table is required")
)

// Event is one committed analytics change, as published by the persistence layer.
type Event struct {
	OrgID  string `json:"org_id"`
	Table  string `json:"table"`
	Action string `json:"action,omitempty"`

	// UserID, when set, additionally targets every socket authenticated as
	// that user regardless of its subscriptions.
	UserID string `json:"user_id,omitempty"`

	// Channels are extra channel keys to deliver to, on top of the org and
	// table channels.
	Channels []string `json:"channels,omitempty"`

	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// PublishResponse is returned by IngestService.Publish.
type PublishResponse struct {
	OK bool `json:"ok"`

	// Delivered is the number of sockets the event was queued for.
	Delivered int    `json:"delivered"`
	Message   string `json:"message,omitempty"`
}

// Payload is the frame body pushed to dashboard sockets for an Event.
type Payload struct {
	Action string          `json:"action"`
	Table  string          `json:"table"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Validate checks the fields the fan-out depends on.
func (e *Event) Validate() error {
	if e.OrgID == "" {
		return ErrMissingOrg
	}
	if e.Table == "" {
		return ErrMissingTable
	}
	return nil
}

// Payload returns the broadcast body for e.
func (e *Event) Payload() Payload {
	action := e.Action
	if action == "" {
		action = DefaultAction
	}
	return Payload{Action: action, Table: e.Table, Data: e.Data}
}

// BroadcastChannels returns the channel keys e is delivered to, without duplicates.
func (e *Event) BroadcastChannels() []string {
	out := make([]string, 0, 2+len(e.Channels))
	seen := make(map[string]struct{}, cap(out))
	add := func(ch string) {
		if ch == "" {
			return
		}
		if _, ok := seen[ch]; ok {
			return
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	add(OrgChannel(e.OrgID))
	add(TableChannel(e.Table))
	for _, ch := range e.Channels {
		add(ch)
	}
	return out
}

// OrgChannel returns the channel key for every dashboard of an organization.
func OrgChannel(orgID string) string {
	if orgID == "" {
		return ""
	}
	return "org:" + orgID
}

// TableChannel returns the channel key for dashboards watching a table.
func TableChannel(table string) string {
	if table == "" {
		return ""
	}
	return "table:" + table
}
