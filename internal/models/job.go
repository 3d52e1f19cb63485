package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobType identifies which worker family handles a job.
type JobType string

const (
	JobTypeEmail        JobType = "email"
	JobTypeWhatsApp     JobType = "whatsapp"
	JobTypeSMS          JobType = "sms"
	JobTypeNotification JobType = "notification"
	JobTypeCronjob      JobType = "cronjob"
)

// IsValid checks if the JobType is a known, valid type
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeEmail, JobTypeWhatsApp, JobTypeSMS, JobTypeNotification, JobTypeCronjob:
		return true
	}
	return false
}

// String returns the string representation of the JobType
func (t JobType) String() string {
	return string(t)
}

// AllJobTypes returns a slice of all valid JobType values
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeEmail,
		JobTypeWhatsApp,
		JobTypeSMS,
		JobTypeNotification,
		JobTypeCronjob,
	}
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsValid checks if the JobStatus is a known state
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed states
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// Sentinel errors shared across storage and handlers
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrInvalidPayload = errors.New("Payload must be a non-empty object")
	ErrInvalidJobType = errors.New("Invalid job type")
)

// Job is the durable record of a unit of producer-submitted work.
// Payload is the opaque producer-supplied object; Result is set only
// once the job reaches a terminal state.
type Job struct {
	ID        int64           `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    JobStatus       `json:"status"`
	WorkerID  *int64          `json:"workerId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Validate checks admission invariants for a new job
func (j *Job) Validate() error {
	if !j.Type.IsValid() {
		return ErrInvalidJobType
	}
	if err := ValidatePayload(j.Payload); err != nil {
		return err
	}
	return nil
}

// ValidatePayload enforces that the payload is a non-empty JSON object.
// Arrays, scalars, null, and {} are all rejected.
func ValidatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return ErrInvalidPayload
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ErrInvalidPayload
	}
	if len(obj) == 0 {
		return ErrInvalidPayload
	}
	return nil
}

// ToJSON serializes the job for logging and transport
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(data), nil
}
