package presence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client → server message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeTyping      = "typing"
	TypeTypingStop  = "typing_stop"
	TypePing        = "ping"
)

// Server → client message types.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeMessage      = "message"
	TypePresence     = "presence"
	TypePong         = "pong"
	TypeError        = "error"
)

// ClientMessage is the inbound frame shape. All client messages share a
// type discriminator plus an optional room id.
type ClientMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
}

// DecodeClientMessage parses a raw inbound frame. A frame without a type
// is malformed.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return &msg, nil
}

// RoomFrame acknowledges a subscribe or unsubscribe.
type RoomFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// MessageFrame relays a chat message originated by the messaging service.
type MessageFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TypingFrame announces that a user started (or stopped) typing in a room.
// DisplayName is omitted on stop frames.
type TypingFrame struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// PresenceFrame announces a user's presence transition.
type PresenceFrame struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PongFrame answers a client heartbeat ping.
type PongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame reports a per-connection protocol error. The connection
// remains open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewSubscribedFrame(roomID string) RoomFrame {
	return RoomFrame{Type: TypeSubscribed, RoomID: roomID}
}

func NewUnsubscribedFrame(roomID string) RoomFrame {
	return RoomFrame{Type: TypeUnsubscribed, RoomID: roomID}
}

func NewMessageFrame(payload json.RawMessage) MessageFrame {
	return MessageFrame{Type: TypeMessage, Payload: payload}
}

func NewTypingFrame(roomID, userID, displayName string) TypingFrame {
	return TypingFrame{Type: TypeTyping, RoomID: roomID, UserID: userID, DisplayName: displayName}
}

func NewTypingStopFrame(roomID, userID string) TypingFrame {
	return TypingFrame{Type: TypeTypingStop, RoomID: roomID, UserID: userID}
}

func NewPresenceFrame(userID string, status Status, at time.Time) PresenceFrame {
	return PresenceFrame{Type: TypePresence, UserID: userID, Status: status, Timestamp: at}
}

func NewPongFrame(at time.Time) PongFrame {
	return PongFrame{Type: TypePong, Timestamp: at}
}

func NewErrorFrame(code int, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}
