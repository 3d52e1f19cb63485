package models

import "time"

// WorkerStatus represents the runtime state of a worker
type WorkerStatus string

const (
	WorkerStatusIdle WorkerStatus = "idle"
	WorkerStatusBusy WorkerStatus = "busy"
)

// IsValid checks if the WorkerStatus is a known state
func (s WorkerStatus) IsValid() bool {
	return s == WorkerStatusIdle || s == WorkerStatusBusy
}

func (s WorkerStatus) String() string {
	return string(s)
}

// Worker is the durable registry record for a worker process.
// The live process handle is held by the supervisor only and is
// never persisted.
type Worker struct {
	ID         int64        `json:"id"`
	Type       JobType      `json:"type"`
	Status     WorkerStatus `json:"status"`
	IsActive   bool         `json:"isActive"`
	LastActive time.Time    `json:"lastActive"`
}
