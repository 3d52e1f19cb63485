package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/coordinator"
	"github.com/ternarybob/dispatch/internal/models"
)

// Scheduler submits recurring cronjob work through the coordinator.
// Each configured entry becomes a cron-triggered job submission; the
// script runner picks the jobs up like any other cronjob.
type Scheduler struct {
	service *coordinator.Service
	logger  arbor.ILogger
	cron    *cron.Cron
}

// New builds the scheduler from configured entries. Invalid cron
// expressions fail construction rather than silently skipping.
func New(config *common.SchedulerConfig, service *coordinator.Service, logger arbor.ILogger) (*Scheduler, error) {
	s := &Scheduler{
		service: service,
		logger:  logger,
		cron:    cron.New(),
	}

	for _, entry := range config.Entries {
		payload := json.RawMessage(entry.Payload)
		if err := models.ValidatePayload(payload); err != nil {
			return nil, fmt.Errorf("invalid payload for schedule %s: %w", entry.Name, err)
		}

		name := entry.Name
		if _, err := s.cron.AddFunc(entry.Schedule, func() {
			s.submit(name, payload)
		}); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", entry.Schedule, entry.Name, err)
		}

		logger.Info().Str("name", entry.Name).Str("schedule", entry.Schedule).Msg("Schedule registered")
	}

	return s, nil
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("entries", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop halts scheduling and waits for in-flight submissions
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) submit(name string, payload json.RawMessage) {
	id, err := s.service.CreateJob(context.Background(), models.JobTypeCronjob, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule", name).Msg("Failed to submit scheduled job")
		return
	}
	s.logger.Info().Str("schedule", name).Int64("job_id", id).Msg("Scheduled job submitted")
}
