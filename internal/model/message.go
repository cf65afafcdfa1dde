package model

import (
	"encoding/json"
	"time"
)

// Message is one domain message delivered on a topic.
type Message struct {
	Topic               string
	ID                  string
	PublisherTrackingID string
	TrackingID          string
	LeftServerAt        time.Time // zero when the server did not stamp it
	ReceivedAt          time.Time

	payload []byte
}

// NewMessage builds a Message holding its own copy of payload.
func NewMessage(topic string, payload []byte) *Message {
	frozen := make([]byte, len(payload))
	copy(frozen, payload)
	return &Message{Topic: topic, payload: frozen}
}

// Payload returns a copy of the raw payload.
func (m *Message) Payload() json.RawMessage {
	out := make([]byte, len(m.payload))
	copy(out, m.payload)
	return out
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.payload, v)
}
