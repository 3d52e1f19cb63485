package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// WorkerStorage implements SQLite storage for the worker registry
type WorkerStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewWorkerStorage creates a new worker storage instance
func NewWorkerStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.WorkerStorage {
	return &WorkerStorage{
		db:     db,
		logger: logger,
	}
}

// CreateWorker registers a new worker of the given type, idle and active
func (s *WorkerStorage) CreateWorker(ctx context.Context, workerType models.JobType) (int64, error) {
	result, err := s.db.db.ExecContext(ctx,
		`INSERT INTO workers (type, status, is_active, last_active) VALUES (?, ?, 1, ?)`,
		string(workerType), string(models.WorkerStatusIdle), time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("type", workerType.String()).Msg("Failed to create worker")
		return 0, fmt.Errorf("failed to create worker: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read worker id: %w", err)
	}

	s.logger.Debug().Int64("worker_id", id).Str("type", workerType.String()).Msg("Worker registered")
	return id, nil
}

// GetWorker retrieves a worker by ID
func (s *WorkerStorage) GetWorker(ctx context.Context, id int64) (*models.Worker, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT id, type, status, is_active, last_active FROM workers WHERE id = ?`,
		id,
	)

	worker, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return worker, nil
}

// ListWorkers returns active workers, oldest first (row order), optionally
// filtered by type. Oldest-first ordering is what scale-down relies on.
func (s *WorkerStorage) ListWorkers(ctx context.Context, workerType models.JobType) ([]*models.Worker, error) {
	query := `SELECT id, type, status, is_active, last_active FROM workers WHERE is_active = 1`
	args := []interface{}{}

	if workerType != "" {
		query += " AND type = ?"
		args = append(args, string(workerType))
	}

	query += " ORDER BY id ASC"

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	workers := []*models.Worker{}
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

// UpdateWorkerStatus is the idempotent status setter, refreshing last_active
func (s *WorkerStorage) UpdateWorkerStatus(ctx context.Context, id int64, status models.WorkerStatus) error {
	if _, err := s.db.db.ExecContext(ctx,
		`UPDATE workers SET status = ?, last_active = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id,
	); err != nil {
		s.logger.Error().Err(err).Int64("worker_id", id).Msg("Failed to update worker status")
		return fmt.Errorf("failed to update worker status: %w", err)
	}

	s.logger.Debug().Int64("worker_id", id).Str("status", status.String()).Msg("Worker status updated")
	return nil
}

// DeleteWorker deactivates a worker record
func (s *WorkerStorage) DeleteWorker(ctx context.Context, id int64) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE workers SET is_active = 0, last_active = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete worker: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return models.ErrWorkerNotFound
	}

	s.logger.Debug().Int64("worker_id", id).Msg("Worker deactivated")
	return nil
}

// GetStats aggregates active worker counts per status and per type
func (s *WorkerStorage) GetStats(ctx context.Context) (*models.WorkerStats, error) {
	stats := &models.WorkerStats{
		ByStatus: map[string]int64{},
		ByType:   map[string]int64{},
	}

	rows, err := s.db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM workers WHERE is_active = 1 GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count workers by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.db.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM workers WHERE is_active = 1 GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count workers by type: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var workerType string
		var count int64
		if err := typeRows.Scan(&workerType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[workerType] = count
	}
	return stats, typeRows.Err()
}

func scanWorker(row rowScanner) (*models.Worker, error) {
	var worker models.Worker
	var workerType, status string
	var isActive int
	var lastActive int64

	if err := row.Scan(&worker.ID, &workerType, &status, &isActive, &lastActive); err != nil {
		return nil, err
	}

	worker.Type = models.JobType(workerType)
	worker.Status = models.WorkerStatus(status)
	worker.IsActive = isActive != 0
	worker.LastActive = time.Unix(lastActive, 0)

	return &worker, nil
}
