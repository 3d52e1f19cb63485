package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the backlog for a type is empty
var ErrNoMessage = errors.New("no message available")

// QueueMessage is the backlog entry pushed onto the per-type list.
// It is a hint that drives notification latency; the job store is
// the source of truth for lifecycle.
type QueueMessage struct {
	JobID   int64           `json:"job_id"`
	Type    JobType         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToJSON serializes the message for the list entry
func (m *QueueMessage) ToJSON() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// QueueMessageFromJSON deserializes a backlog list entry
func QueueMessageFromJSON(data string) (*QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
