package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// Process is a live worker child. The supervisor holds these handles
// in memory only; nothing about a process is persisted.
type Process interface {
	// Wait blocks until the child exits and returns its exit code
	Wait() (int, error)

	// Stop sends the termination signal
	Stop() error

	// PID returns the child process id
	PID() int
}

// SpawnFunc starts a worker child tagged with its id and type
type SpawnFunc func(id int64, workerType models.JobType) (Process, error)

// Supervisor owns worker process lifecycle: spawn on init, crash
// restart, scaling, shutdown.
type Supervisor struct {
	registry interfaces.WorkerStorage
	logger   arbor.ILogger
	config   *common.WorkersConfig
	spawn    SpawnFunc

	mu    sync.Mutex
	procs map[int64]Process
}

// New creates a supervisor spawning the configured worker binary
func New(registry interfaces.WorkerStorage, logger arbor.ILogger, config *common.WorkersConfig) *Supervisor {
	s := &Supervisor{
		registry: registry,
		logger:   logger,
		config:   config,
		procs:    map[int64]Process{},
	}
	s.spawn = s.spawnCommand
	return s
}

// NewWithSpawner creates a supervisor with a custom spawn function
func NewWithSpawner(registry interfaces.WorkerStorage, logger arbor.ILogger, config *common.WorkersConfig, spawn SpawnFunc) *Supervisor {
	s := New(registry, logger, config)
	s.spawn = spawn
	return s
}

// Init reads every registered worker and spawns a process for each
func (s *Supervisor) Init(ctx context.Context) error {
	workers, err := s.registry.ListWorkers(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	for _, w := range workers {
		if err := s.StartWorker(ctx, w.ID, w.Type); err != nil {
			s.logger.Error().Err(err).Int64("worker_id", w.ID).Msg("Failed to start worker")
		}
	}

	s.logger.Info().Int("workers", len(workers)).Msg("Supervisor initialized")
	return nil
}

// StartWorker spawns a child for the worker and monitors its exit.
// A non-zero exit respawns with the same id and type; exit 0 forgets
// the worker. There is no restart backoff.
func (s *Supervisor) StartWorker(ctx context.Context, id int64, workerType models.JobType) error {
	proc, err := s.spawn(id, workerType)
	if err != nil {
		return fmt.Errorf("failed to spawn worker %d: %w", id, err)
	}

	s.mu.Lock()
	s.procs[id] = proc
	s.mu.Unlock()

	s.logger.Info().
		Int64("worker_id", id).
		Str("type", workerType.String()).
		Int("pid", proc.PID()).
		Msg("Worker process started")

	go s.monitor(id, workerType, proc)
	return nil
}

// monitor watches one child until exit and decides whether to respawn
func (s *Supervisor) monitor(id int64, workerType models.JobType, proc Process) {
	code, err := proc.Wait()

	s.mu.Lock()
	tracked := s.procs[id] == proc
	if tracked {
		delete(s.procs, id)
	}
	s.mu.Unlock()

	if !tracked {
		// StopWorker or Shutdown already dropped the handle
		return
	}

	if code == 0 {
		s.logger.Info().Int64("worker_id", id).Msg("Worker exited cleanly")
		return
	}

	s.logger.Warn().
		Int64("worker_id", id).
		Int("exit_code", code).
		Err(err).
		Msg("Worker crashed, respawning")

	if err := s.StartWorker(context.Background(), id, workerType); err != nil {
		s.logger.Error().Err(err).Int64("worker_id", id).Msg("Failed to respawn worker")
	}
}

// CreateWorker registers a new worker record, then starts its process
func (s *Supervisor) CreateWorker(ctx context.Context, workerType models.JobType) (int64, error) {
	id, err := s.registry.CreateWorker(ctx, workerType)
	if err != nil {
		return 0, err
	}

	if err := s.StartWorker(ctx, id, workerType); err != nil {
		return 0, err
	}
	return id, nil
}

// StopWorker terminates the worker process and deactivates its record.
// Returns false when no live handle exists for the id.
func (s *Supervisor) StopWorker(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	proc, ok := s.procs[id]
	if ok {
		delete(s.procs, id)
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := proc.Stop(); err != nil {
		s.logger.Warn().Err(err).Int64("worker_id", id).Msg("Failed to signal worker")
	}

	if err := s.registry.DeleteWorker(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("worker_id", id).Msg("Failed to deactivate worker record")
	}

	s.logger.Info().Int64("worker_id", id).Msg("Worker stopped")
	return true, nil
}

// ScaleWorkers adjusts the count of workers for a type. Scale-down
// stops workers oldest-first by row order. Not atomic with concurrent
// create/stop calls; callers serialize.
func (s *Supervisor) ScaleWorkers(ctx context.Context, workerType models.JobType, desired int) error {
	current, err := s.registry.ListWorkers(ctx, workerType)
	if err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	switch {
	case len(current) < desired:
		for i := len(current); i < desired; i++ {
			if _, err := s.CreateWorker(ctx, workerType); err != nil {
				return err
			}
		}
	case len(current) > desired:
		for _, w := range current[:len(current)-desired] {
			if _, err := s.StopWorker(ctx, w.ID); err != nil {
				return err
			}
		}
	}

	s.logger.Info().
		Str("type", workerType.String()).
		Int("from", len(current)).
		Int("to", desired).
		Msg("Workers scaled")
	return nil
}

// Shutdown stops every known worker
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	procs := make(map[int64]Process, len(s.procs))
	for id, proc := range s.procs {
		procs[id] = proc
	}
	s.procs = map[int64]Process{}
	s.mu.Unlock()

	for id, proc := range procs {
		if err := proc.Stop(); err != nil {
			s.logger.Warn().Err(err).Int64("worker_id", id).Msg("Failed to stop worker")
		}
	}

	s.logger.Info().Int("workers", len(procs)).Msg("Supervisor shut down")
	return nil
}

// RunningCount returns the number of live child processes
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
