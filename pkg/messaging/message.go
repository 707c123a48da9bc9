package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message kinds published on the analytics feed
const (
	KindEvent      = "event"
	KindSessionEnd = "session_end"
)

// Message is one entry of the analytics feed
type Message struct {
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message, encoding payload as JSON
func NewMessage(kind, msgType, sessionID string, payload interface{}) (Message, error) {
	msg := Message{
		MessageID: uuid.New().String(),
		Kind:      kind,
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// RoutingKey is base.kind.type, e.g. conversation.event.transcription
func (m Message) RoutingKey(base string) string {
	key := base + "." + m.Kind
	if m.Type != "" {
		key += "." + m.Type
	}
	return key
}
