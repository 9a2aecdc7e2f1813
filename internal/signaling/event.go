package signaling

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType discriminates realtime signaling events.
type EventType string

const (
	// Room-scoped negotiation events.
	EventReady      EventType = "ready"
	EventSDP        EventType = "sdp"
	EventICE        EventType = "ice"
	EventEndSession EventType = "end_session"

	// Queue-entry-scoped consent handshake events.
	EventConsent EventType = "consent"
	EventReject  EventType = "reject"
)

// SDP description types carried inside an EventSDP.
const (
	SDPOffer  = "offer"
	SDPAnswer = "answer"
)

// Event is the wire envelope for every realtime signal. Room events carry
// RoomId; consent events carry the sender's queue id and topic instead. All
// events carry SenderId so receivers can suppress their own echo.
type Event struct {
	Type     EventType `json:"type"`
	RoomId   string    `json:"room_id,omitempty"`
	SenderId uuid.UUID `json:"sender_id"`

	// SDP exchange.
	SDPType string `json:"sdp_type,omitempty"` // "offer" | "answer"
	SDP     string `json:"sdp,omitempty"`

	// ICE exchange: a serialized candidate init blob, opaque to the relay.
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Consent handshake.
	QueueId uuid.UUID `json:"queue_id,omitempty"` // sender's queue entry
	Topic   string    `json:"topic,omitempty"`
}
