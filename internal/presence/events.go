package presence

import (
	"encoding/json"
	"fmt"
)

// Inbound event names accepted from a connection.
const (
	EventSendMessage  = "send-message"
	EventTyping       = "typing"
	EventStatusUpdate = "message-status-update"
)

// Outbound event names emitted to connections.
const (
	EventOnlineSnapshot = "online-snapshot"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
	EventReceiveMessage = "receive-message"
	EventUserTyping     = "user-typing"
	// EventMessageStatus shares its name with the inbound status event.
	EventMessageStatus = EventStatusUpdate
)

// Event is the wire envelope exchanged over a live connection.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(name string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Payload: raw}, nil
}

// Encode returns the frame bytes for the envelope.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// TypingPayload is the body of a user-typing event.
type TypingPayload struct {
	ContactID string `json:"contactId"`
	IsTyping  bool   `json:"isTyping"`
}

// Status is the delivered/read pair of a message status update.
type Status struct {
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
}

// StatusPayload is the body of a message-status-update event.
type StatusPayload struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
}
