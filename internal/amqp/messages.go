package amqp

import (
	"encoding/json"
	"time"

	"bizledger/internal/ledger"

	"github.com/google/uuid"
)

// EventMessage carries one committed ledger event. The worker reads the
// current state from the store, so the message only names what changed.
type EventMessage struct {
	MessageID   string       `json:"message_id"`
	Event       ledger.Event `json:"event"`
	PublishedAt time.Time    `json:"published_at"`
}

func NewEventMessage(ev ledger.Event) *EventMessage {
	return &EventMessage{
		MessageID:   uuid.NewString(),
		Event:       ev,
		PublishedAt: time.Now().UTC(),
	}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
