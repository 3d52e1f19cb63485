package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// JobStorage implements SQLite storage for jobs
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a pending job and returns its assigned id
func (s *JobStorage) CreateJob(ctx context.Context, jobType models.JobType, payload json.RawMessage) (int64, error) {
	now := time.Now().Unix()

	result, err := s.db.db.ExecContext(ctx,
		`INSERT INTO jobs (type, payload, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(jobType), string(payload), string(models.JobStatusPending), now, now,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("type", jobType.String()).Msg("Failed to create job")
		return 0, fmt.Errorf("failed to create job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read job id: %w", err)
	}

	s.logger.Debug().Int64("job_id", id).Str("type", jobType.String()).Msg("Job created")
	return id, nil
}

// GetJob retrieves a job by ID
func (s *JobStorage) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT id, type, payload, status, worker_id, result, created_at, updated_at FROM jobs WHERE id = ?`,
		id,
	)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status and/or type, newest first
func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := `SELECT id, type, payload, status, worker_id, result, created_at, updated_at FROM jobs WHERE 1=1`
	args := []interface{}{}

	if opts != nil {
		if opts.Status != "" {
			query += " AND status = ?"
			args = append(args, opts.Status)
		}
		if opts.Type != "" {
			query += " AND type = ?"
			args = append(args, opts.Type)
		}
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := 50
	if opts != nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if opts != nil && opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob is the idempotent last-writer-wins status setter.
// workerID and result are applied only when provided.
func (s *JobStorage) UpdateJob(ctx context.Context, id int64, status models.JobStatus, workerID *int64, result json.RawMessage) error {
	query := "UPDATE jobs SET status = ?, updated_at = ?"
	args := []interface{}{string(status), time.Now().Unix()}

	if workerID != nil {
		query += ", worker_id = ?"
		args = append(args, *workerID)
	}
	if result != nil {
		query += ", result = ?"
		args = append(args, string(result))
	}

	query += " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.Error().Err(err).Int64("job_id", id).Msg("Failed to update job")
		return fmt.Errorf("failed to update job: %w", err)
	}

	s.logger.Debug().Int64("job_id", id).Str("status", status.String()).Msg("Job updated")
	return nil
}

// ClaimNextJob atomically transitions the oldest pending job of the
// given type to processing. The compare-and-set on status guarantees
// at-most-one worker per job without locks; a lost race returns
// (nil, nil), not an error.
func (s *JobStorage) ClaimNextJob(ctx context.Context, jobType models.JobType, workerID int64) (*models.Job, error) {
	var candidate int64
	err := s.db.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE status = ? AND type = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		string(models.JobStatusPending), string(jobType),
	).Scan(&candidate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate job: %w", err)
	}

	var claimedBy sql.NullInt64
	if workerID > 0 {
		claimedBy.Valid = true
		claimedBy.Int64 = workerID
	}
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, worker_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.JobStatusProcessing), claimedBy, time.Now().Unix(), candidate, string(models.JobStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		// Another worker won the race
		s.logger.Debug().Int64("job_id", candidate).Int64("worker_id", workerID).Msg("Claim lost")
		return nil, nil
	}

	job, err := s.GetJob(ctx, candidate)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int64("job_id", candidate).Int64("worker_id", workerID).Msg("Job claimed")
	return job, nil
}

// GetStats aggregates job counts per status and per type
func (s *JobStorage) GetStats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{
		ByStatus: map[string]int64{},
		ByType:   map[string]int64{},
	}

	rows, err := s.db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
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

	typeRows, err := s.db.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM jobs GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by type: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var jobType string
		var count int64
		if err := typeRows.Scan(&jobType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[jobType] = count
	}
	return stats, typeRows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var jobType, payload, status string
	var workerID sql.NullInt64
	var result sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&job.ID, &jobType, &payload, &status, &workerID, &result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	job.Type = models.JobType(jobType)
	job.Payload = json.RawMessage(payload)
	job.Status = models.JobStatus(status)
	if workerID.Valid {
		job.WorkerID = &workerID.Int64
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)

	return &job, nil
}
