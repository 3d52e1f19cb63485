package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/dispatch/internal/models"
)

// JobStorage persists job records and implements the claim CAS
type JobStorage interface {
	// CreateJob inserts a pending job and returns its assigned id
	CreateJob(ctx context.Context, jobType models.JobType, payload json.RawMessage) (int64, error)

	// GetJob returns the job or models.ErrJobNotFound
	GetJob(ctx context.Context, id int64) (*models.Job, error)

	// ListJobs returns jobs filtered by status and/or type, newest first
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// UpdateJob is the idempotent last-writer-wins status setter.
	// workerID and result are applied only when non-nil.
	UpdateJob(ctx context.Context, id int64, status models.JobStatus, workerID *int64, result json.RawMessage) error

	// ClaimNextJob atomically transitions the oldest pending job of the
	// given type to processing. Returns (nil, nil) when there is nothing
	// to claim or another worker won the race.
	ClaimNextJob(ctx context.Context, jobType models.JobType, workerID int64) (*models.Job, error)

	// GetStats aggregates counts per status and per type
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// JobListOptions filter ListJobs results
type JobListOptions struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// WorkerStorage persists the worker registry
type WorkerStorage interface {
	CreateWorker(ctx context.Context, workerType models.JobType) (int64, error)
	GetWorker(ctx context.Context, id int64) (*models.Worker, error)
	ListWorkers(ctx context.Context, workerType models.JobType) ([]*models.Worker, error)
	UpdateWorkerStatus(ctx context.Context, id int64, status models.WorkerStatus) error
	DeleteWorker(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.WorkerStats, error)
}

// MailStorage serves per-module SMTP configuration with a Global
// fallback and records every send attempt
type MailStorage interface {
	GetServiceSettings(ctx context.Context, module string) (*models.MailServiceSettings, error)
	GetTransportSettings(ctx context.Context, module, role string) (*models.MailTransportSettings, error)
	SetSetting(ctx context.Context, module, key, value string) error
	LogSend(ctx context.Context, entry *models.MailLogEntry) error
	ListSendLog(ctx context.Context, module string, limit int) ([]*models.MailLogEntry, error)
}

// TaskStorage maintains the task-scheduler records mutated by the
// script runner
type TaskStorage interface {
	GetTaskByName(ctx context.Context, name string) (*models.ScheduledTask, error)
	MarkTaskRunning(ctx context.Context, taskID int64, pid int) error
	ClearTaskRunning(ctx context.Context, taskID int64) error
	AppendTaskLog(ctx context.Context, log *models.TaskLog) error
	UpdateTaskLog(ctx context.Context, log *models.TaskLog) error
	ListTaskLogs(ctx context.Context, taskID int64, limit int) ([]*models.TaskLog, error)
}
