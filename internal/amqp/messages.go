package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ChangeMessage tells other processes that the collection under Key was
// rewritten. It carries no recipient data; receivers re-read the slot.
type ChangeMessage struct {
	Key       string    `json:"key"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(key, origin string) *ChangeMessage {
	return &ChangeMessage{
		Key:       key,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and checks it names its origin.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Origin == "" {
		return nil, errors.New("change message without origin")
	}
	return &msg, nil
}
