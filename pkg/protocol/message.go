package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Message is a payload published on the bus. Immutable once published; the
// payload map must not be mutated after publish since subscribers share it.
type Message struct {
	ID        string         `json:"id"`
	Channel   Channel        `json:"channel"`
	Sender    string         `json:"sender"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a Message with a fresh ID and timestamp.
func NewMessage(channel Channel, sender string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
