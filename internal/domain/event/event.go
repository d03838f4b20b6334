package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is published after the change it describes has committed
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	RequestID string                 `json:"request_id"`
	ActorID   string                 `json:"actor_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent stamps a fresh uuid and the current time
func NewEvent(eventType Type, requestID, actorID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RequestID: requestID,
		ActorID:   actorID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// PayloadString returns payload[key] when it is a string
func (e *Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Subject is "<prefix>.<type>", or just the type without a prefix
func (e *Event) Subject(prefix string) string {
	if prefix == "" {
		return string(e.Type)
	}
	return prefix + "." + string(e.Type)
}
