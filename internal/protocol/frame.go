// ABOUTME: Wire envelope and event names for the discussion WebSocket protocol
// ABOUTME: Frames are {type, request_id?, payload} JSON objects in both directions

package protocol

import (
	"encoding/json"
)

// Frame is the JSON envelope exchanged over the WebSocket.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Inbound event types
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSend        = "send"
	TypeStartTyping = "startTyping"
	TypeStopTyping  = "stopTyping"
	TypeAddReaction = "addReaction"
	TypeDelete      = "delete"
	TypePing        = "ping"

	// TypeUnknown stands in for any inbound type outside the protocol.
	TypeUnknown = "unknown"
)

var inboundTypes = map[string]bool{
	TypeJoin:        true,
	TypeLeave:       true,
	TypeSend:        true,
	TypeStartTyping: true,
	TypeStopTyping:  true,
	TypeAddReaction: true,
	TypeDelete:      true,
	TypePing:        true,
}

// InboundType returns t when it names an inbound event and TypeUnknown otherwise.
// Client-supplied types must pass through it before becoming a metric label.
func InboundType(t string) string {
	if inboundTypes[t] {
		return t
	}
	return TypeUnknown
}

// Outbound event types
const (
	TypeHistory         = "history"
	TypeNewMessage      = "newMessage"
	TypeJoined          = "joined"
	TypeLeft            = "left"
	TypeOccupancy       = "occupancy"
	TypeTypingStarted   = "typingStarted"
	TypeTypingStopped   = "typingStopped"
	TypeReactionUpdated = "reactionUpdated"
	TypeMessageDeleted  = "messageDeleted"
	TypeScopedError     = "scopedError"
	TypePong            = "pong"
)

// Event is an outbound event before encoding. MessageID is set on newMessage
// events so a joiner's held events can be deduplicated against its history.
type Event struct {
	Type      string
	RequestID string
	Payload   any
	MessageID string
}

// Frame encodes the event into its wire envelope.
func (e Event) Frame() (Frame, error) {
	payload := e.Payload
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: e.Type, RequestID: e.RequestID, Payload: raw}, nil
}
