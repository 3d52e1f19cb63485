package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// Service is the dispatch coordinator: admission, lifecycle state
// machine, stats, and completion-event handling. It is the only
// process that writes the primary database.
type Service struct {
	jobs       interfaces.JobStorage
	workers    interfaces.WorkerStorage
	transport  interfaces.QueueTransport
	supervisor interfaces.Supervisor
	logger     arbor.ILogger
	maxPerType int
}

// NewService wires the coordinator
func NewService(
	jobs interfaces.JobStorage,
	workers interfaces.WorkerStorage,
	transport interfaces.QueueTransport,
	supervisor interfaces.Supervisor,
	logger arbor.ILogger,
	maxPerType int,
) *Service {
	return &Service{
		jobs:       jobs,
		workers:    workers,
		transport:  transport,
		supervisor: supervisor,
		logger:     logger,
		maxPerType: maxPerType,
	}
}

// Start subscribes the completion handlers on the transport
func (s *Service) Start(ctx context.Context) error {
	return s.transport.Start(ctx, interfaces.CompletionHandlers{
		OnJobComplete: s.handleJobComplete,
		OnJobFailed:   s.handleJobFailed,
	})
}

// CreateJob validates, persists, enqueues, and announces a new job.
// The backlog write is best-effort: the job store is the source of
// truth and the 1s worker poll covers a lost notification.
func (s *Service) CreateJob(ctx context.Context, jobType models.JobType, payload json.RawMessage) (int64, error) {
	if !jobType.IsValid() {
		return 0, models.ErrInvalidJobType
	}
	if err := models.ValidatePayload(payload); err != nil {
		return 0, err
	}

	id, err := s.jobs.CreateJob(ctx, jobType, payload)
	if err != nil {
		return 0, err
	}

	msg := &models.QueueMessage{
		JobID:   id,
		Type:    jobType,
		Payload: payload,
	}
	if err := s.transport.AddJob(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Int64("job_id", id).Msg("Failed to enqueue job notification")
	}

	s.logger.Info().Int64("job_id", id).Str("type", jobType.String()).Msg("Job accepted")
	return id, nil
}

// GetJob returns the job or models.ErrJobNotFound
func (s *Service) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// ListJobs returns jobs filtered by status and/or type
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.jobs.ListJobs(ctx, opts)
}

// UpdateJob is the idempotent status setter used by workers
func (s *Service) UpdateJob(ctx context.Context, id int64, status models.JobStatus, workerID *int64, result json.RawMessage) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid job status: %s", status)
	}
	return s.jobs.UpdateJob(ctx, id, status, workerID, result)
}

// ClaimNextJob serves the "next pending by type" request. A nil job
// with nil error means nothing to claim or a lost race.
func (s *Service) ClaimNextJob(ctx context.Context, jobType models.JobType, workerID int64) (*models.Job, error) {
	if !jobType.IsValid() {
		return nil, models.ErrInvalidJobType
	}
	return s.jobs.ClaimNextJob(ctx, jobType, workerID)
}

// CreateWorker delegates to the supervisor and returns the new id
func (s *Service) CreateWorker(ctx context.Context, workerType models.JobType) (int64, error) {
	if !workerType.IsValid() {
		return 0, models.ErrInvalidJobType
	}
	return s.supervisor.CreateWorker(ctx, workerType)
}

// GetWorker returns the registry record
func (s *Service) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	return s.workers.GetWorker(ctx, id)
}

// ListWorkers returns active workers, optionally filtered by type
func (s *Service) ListWorkers(ctx context.Context, workerType models.JobType) ([]*models.Worker, error) {
	return s.workers.ListWorkers(ctx, workerType)
}

// UpdateWorkerStatus is the idempotent worker status setter
func (s *Service) UpdateWorkerStatus(ctx context.Context, id int64, status models.WorkerStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid worker status: %s", status)
	}
	return s.workers.UpdateWorkerStatus(ctx, id, status)
}

// StopWorker delegates to the supervisor. Returns
// models.ErrWorkerNotFound when no live handle exists.
func (s *Service) StopWorker(ctx context.Context, id int64) error {
	found, err := s.supervisor.StopWorker(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return models.ErrWorkerNotFound
	}
	return nil
}

// ScaleWorkers adjusts the worker count for a type. Count must lie in
// [1, maxPerType].
func (s *Service) ScaleWorkers(ctx context.Context, workerType models.JobType, count int) error {
	if !workerType.IsValid() {
		return models.ErrInvalidJobType
	}
	if count < 1 || count > s.maxPerType {
		return fmt.Errorf("count must be between 1 and %d", s.maxPerType)
	}
	return s.supervisor.ScaleWorkers(ctx, workerType, count)
}

// GetStats aggregates job and worker counts
func (s *Service) GetStats(ctx context.Context) (*models.QueueStats, error) {
	jobStats, err := s.jobs.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	workerStats, err := s.workers.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &models.QueueStats{
		Jobs:    *jobStats,
		Workers: *workerStats,
	}, nil
}

// handleJobComplete finalizes a successful job. Idempotent: replaying
// the event rewrites the same terminal state.
func (s *Service) handleJobComplete(ctx context.Context, event *models.JobCompleteEvent) {
	var result json.RawMessage
	if event.Result != nil {
		data, err := json.Marshal(event.Result)
		if err != nil {
			s.logger.Warn().Err(err).Int64("job_id", event.JobID).Msg("Failed to encode completion result")
		} else {
			result = data
		}
	}

	workerID := event.WorkerID
	if err := s.jobs.UpdateJob(ctx, event.JobID, models.JobStatusCompleted, &workerID, result); err != nil {
		s.logger.Error().Err(err).Int64("job_id", event.JobID).Msg("Failed to finalize completed job")
	}
	if err := s.workers.UpdateWorkerStatus(ctx, event.WorkerID, models.WorkerStatusIdle); err != nil {
		s.logger.Error().Err(err).Int64("worker_id", event.WorkerID).Msg("Failed to return worker to idle")
	}

	s.logger.Info().Int64("job_id", event.JobID).Int64("worker_id", event.WorkerID).Msg("Job completed")
}

// handleJobFailed finalizes a failed job
func (s *Service) handleJobFailed(ctx context.Context, event *models.JobFailedEvent) {
	result, err := json.Marshal(map[string]string{"error": event.Error})
	if err != nil {
		s.logger.Warn().Err(err).Int64("job_id", event.JobID).Msg("Failed to encode failure result")
	}

	workerID := event.WorkerID
	if err := s.jobs.UpdateJob(ctx, event.JobID, models.JobStatusFailed, &workerID, result); err != nil {
		s.logger.Error().Err(err).Int64("job_id", event.JobID).Msg("Failed to finalize failed job")
	}
	if err := s.workers.UpdateWorkerStatus(ctx, event.WorkerID, models.WorkerStatusIdle); err != nil {
		s.logger.Error().Err(err).Int64("worker_id", event.WorkerID).Msg("Failed to return worker to idle")
	}

	s.logger.Warn().Int64("job_id", event.JobID).Int64("worker_id", event.WorkerID).Str("error", event.Error).Msg("Job failed")
}
