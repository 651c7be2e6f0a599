package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeAuth        = "auth"
	TypePing        = "ping"
)

// Outbound message types.
const (
	TypeConnected     = "connected"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeAuthenticated = "authenticated"
	TypePong          = "pong"
)

// ErrMalformedFrame is returned by ParseInbound when the payload is not a JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Inbound is a parsed client control frame. The concrete type is one of
// Subscribe, Unsubscribe, Auth, Ping or Unknown.
type Inbound interface {
	inbound()
}

// Subscribe asks to add Channels to the sender's subscription set.
type Subscribe struct{ Channels []string }

// Unsubscribe asks to remove Channels from the sender's subscription set.
type Unsubscribe struct{ Channels []string }

// Auth records a claimed identity on the sender's connection.
type Auth struct{ UserID string }

// Ping is a liveness check.
type Ping struct{}

// Unknown is a well-formed object that carries no action: an unrecognized
// type, or a recognized type whose fields have the wrong shape.
type Unknown struct {
	Type   string
	Reason string
}

func (Subscribe) inbound()   {}
func (Unsubscribe) inbound() {}
func (Auth) inbound()        {}
func (Ping) inbound()        {}
func (Unknown) inbound()     {}

// ParseInbound decodes one client frame. It only fails when data is not a
// JSON object; every object yields a message, possibly Unknown.
func ParseInbound(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedFrame)
	}

	var typ string
	if raw, ok := fields["type"]; !ok {
		return Unknown{Reason: "missing type"}, nil
	} else if err := json.Unmarshal(raw, &typ); err != nil {
		return Unknown{Reason: "type is not a string"}, nil
	}

	switch typ {
	case TypeSubscribe:
		chs, ok := decodeChannels(fields["channels"])
		if !ok {
			return Unknown{Type: typ, Reason: "channels is not a list of strings"}, nil
		}
		return Subscribe{Channels: chs}, nil

	case TypeUnsubscribe:
		chs, ok := decodeChannels(fields["channels"])
		if !ok {
			return Unknown{Type: typ, Reason: "channels is not a list of strings"}, nil
		}
		return Unsubscribe{Channels: chs}, nil

	case TypeAuth:
		var uid string
		if err := json.Unmarshal(fields["userId"], &uid); err != nil || uid == "" {
			return Unknown{Type: typ, Reason: "userId is not a non-empty string"}, nil
		}
		return Auth{UserID: uid}, nil

	case TypePing:
		return Ping{}, nil

	default:
		return Unknown{Type: typ, Reason: "unrecognized type"}, nil
	}
}

// decodeChannels accepts only a JSON array of strings; null or absent is rejected.
func decodeChannels(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var chs []string
	if err := json.Unmarshal(raw, &chs); err != nil {
		return nil, false
	}
	if chs == nil {
		chs = []string{}
	}
	return chs, true
}

// ConnectedFrame is sent once, immediately after registration.
type ConnectedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChannelsFrame is the reply to subscribe (full current set) and
// unsubscribe (echo of the request).
type ChannelsFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// AuthenticatedFrame is the reply to auth.
type AuthenticatedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// PongFrame is the reply to ping.
type PongFrame struct {
	Type string `json:"type"`
}
