// Package presence contains the public domain models, wire protocol, and
// interfaces for the presence gateway. It defines the contract for
// interacting with the service.
package presence

import (
	"encoding/json"
	"time"
)

// Status is a user's globally visible availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Record is the per-user presence entry held in the shared store. The
// absence of a record is definitionally "offline"; while a connection is
// alive its gateway refreshes the record's TTL faster than it expires.
type Record struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Status       Status    `json:"status"`
	ConnectionID string    `json:"connection_id,omitempty"` // advisory: owning connection
	LastSeen     time.Time `json:"last_seen"`
}

// TypingMarker is a short-lived per-(room,user) typing indicator. It
// disappears by TTL expiry; an explicit stop deletes it early.
type TypingMarker struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// EventType classifies envelopes on the broadcast bus.
type EventType string

const (
	EventMessage    EventType = "message"
	EventPresence   EventType = "presence"
	EventTyping     EventType = "typing"
	EventTypingStop EventType = "typing_stop"
)

// Envelope is the unit published to the broadcast bus. Room-targeted
// events (message, typing, typing_stop) carry RoomID; presence events
// carry UserID. The payload is the server frame to relay verbatim to
// matching local sockets.
type Envelope struct {
	Event   EventType       `json:"event"`
	RoomID  string          `json:"room_id,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
