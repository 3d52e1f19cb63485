package worker

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// Runtime is the per-worker polling loop. One job is in flight at a
// time; the loop wakes every poll interval and on each job:new event
// for its type.
type Runtime struct {
	id           int64
	workerType   models.JobType
	client       *Client
	transport    interfaces.QueueTransport
	adapter      interfaces.Adapter
	limiter      interfaces.RateLimiter
	pollInterval time.Duration
	logger       arbor.ILogger
}

// NewRuntime wires a worker runtime
func NewRuntime(
	id int64,
	workerType models.JobType,
	client *Client,
	transport interfaces.QueueTransport,
	adapter interfaces.Adapter,
	limiter interfaces.RateLimiter,
	pollInterval time.Duration,
	logger arbor.ILogger,
) *Runtime {
	if pollInterval <= 0 {
		pollInterval = 1 * time.Second
	}
	return &Runtime{
		id:           id,
		workerType:   workerType,
		client:       client,
		transport:    transport,
		adapter:      adapter,
		limiter:      limiter,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run executes the polling loop until the context is cancelled
func (r *Runtime) Run(ctx context.Context) error {
	events, err := r.transport.SubscribeJobNew(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info().
		Int64("worker_id", r.id).
		Str("type", r.workerType.String()).
		Msg("Worker loop started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Int64("worker_id", r.id).Msg("Worker loop stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Type == r.workerType {
				r.tick(ctx)
			}
		}
	}
}

// tick performs one poll: check own state, claim, execute. Transient
// errors are logged and the loop continues on the next tick.
func (r *Runtime) tick(ctx context.Context) {
	self, err := r.client.GetWorker(ctx, r.id)
	if err != nil {
		r.logger.Warn().Err(err).Int64("worker_id", r.id).Msg("Failed to read own record")
		return
	}
	if self.Status == models.WorkerStatusBusy {
		return
	}

	if self.Status != models.WorkerStatusIdle {
		if err := r.client.UpdateWorkerStatus(ctx, r.id, models.WorkerStatusIdle); err != nil {
			r.logger.Warn().Err(err).Int64("worker_id", r.id).Msg("Failed to mark idle")
		}
	}

	// The bucket is shared per type across all workers. A DENY skips
	// the tick; the next tick retries.
	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, "ratelimit:"+r.workerType.String())
		if err != nil {
			r.logger.Warn().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			return
		}
	}

	// Consume one backlog hint; the job store is the source of truth
	// so a mismatch or miss is harmless
	if _, err := r.transport.NextJob(ctx, r.workerType); err != nil && err != models.ErrNoMessage {
		r.logger.Debug().Err(err).Msg("Backlog pop failed")
	}

	job, err := r.client.ClaimNextJob(ctx, r.workerType, r.id)
	if err != nil {
		r.logger.Warn().Err(err).Int64("worker_id", r.id).Msg("Claim request failed")
		return
	}
	if job == nil {
		return
	}

	if err := r.client.UpdateWorkerStatus(ctx, r.id, models.WorkerStatusBusy); err != nil {
		r.logger.Warn().Err(err).Int64("worker_id", r.id).Msg("Failed to mark busy")
	}

	r.processJob(ctx, job)
}

// processJob executes one claimed job. Every PATCH and PUBLISH is
// wrapped so a single failure never aborts the others; the coordinator
// converges through whichever report arrives.
func (r *Runtime) processJob(ctx context.Context, job *models.Job) {
	r.logger.Info().
		Int64("job_id", job.ID).
		Int64("worker_id", r.id).
		Str("type", job.Type.String()).
		Msg("Processing job")

	workerID := r.id
	if err := r.client.UpdateJob(ctx, job.ID, models.JobStatusProcessing, &workerID, nil); err != nil {
		r.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Failed to mark job processing")
	}

	result, execErr := r.adapter.Execute(ctx, job.Payload)

	if execErr != nil {
		r.reportFailure(ctx, job, execErr.Error())
		return
	}
	r.reportSuccess(ctx, job, result)
}

func (r *Runtime) reportSuccess(ctx context.Context, job *models.Job, result interface{}) {
	workerID := r.id
	if err := r.client.UpdateJob(ctx, job.ID, models.JobStatusCompleted, &workerID, result); err != nil {
		r.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Failed to mark job completed")
	}
	if err := r.client.UpdateWorkerStatus(ctx, r.id, models.WorkerStatusIdle); err != nil {
		r.logger.Warn().Err(err).Int64("worker_id", r.id).Msg("Failed to mark idle")
	}
	if err := r.transport.PublishJobComplete(ctx, &models.JobCompleteEvent{
		JobID:    job.ID,
		WorkerID: r.id,
		Result:   result,
	}); err != nil {
		r.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Failed to publish completion")
	}

	r.logger.Info().Int64("job_id", job.ID).Msg("Job succeeded")
}

func (r *Runtime) reportFailure(ctx context.Context, job *models.Job, message string) {
	workerID := r.id
	if err := r.client.UpdateJob(ctx, job.ID, models.JobStatusFailed, &workerID, map[string]string{"error": message}); err != nil {
		r.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Failed to mark job failed")
	}
	if err := r.client.UpdateWorkerStatus(ctx, r.id, models.WorkerStatusIdle); err != nil {
		r.logger.Warn().Err(err).Int64("worker_id", r.id).Msg("Failed to mark idle")
	}
	if err := r.transport.PublishJobFailed(ctx, &models.JobFailedEvent{
		JobID:    job.ID,
		WorkerID: r.id,
		Error:    message,
	}); err != nil {
		r.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("Failed to publish failure")
	}

	r.logger.Warn().Int64("job_id", job.ID).Str("error", message).Msg("Job failed")
}
