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

// TaskStorage implements the task-scheduler store mutated by the
// script runner
type TaskStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewTaskDB opens the task-scheduler database at the given path
func NewTaskDB(logger arbor.ILogger, path string) (*SQLiteDB, error) {
	return NewSQLiteDB(logger, auxConfig(path), taskSchemaSQL)
}

// NewTaskStorage creates a new task storage instance
func NewTaskStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

// GetTaskByName returns the task record, creating it on first use
func (s *TaskStorage) GetTaskByName(ctx context.Context, name string) (*models.ScheduledTask, error) {
	task, err := s.queryTaskByName(ctx, name)
	if err == nil {
		return task, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if _, err := s.db.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (name, is_running) VALUES (?, 0)`,
		name,
	); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	task, err = s.queryTaskByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to reread task: %w", err)
	}
	return task, nil
}

func (s *TaskStorage) queryTaskByName(ctx context.Context, name string) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	var isRunning int
	var startRunning, pid sql.NullInt64

	err := s.db.db.QueryRowContext(ctx,
		`SELECT id, name, is_running, start_running, pid FROM scheduled_tasks WHERE name = ?`,
		name,
	).Scan(&task.ID, &task.Name, &isRunning, &startRunning, &pid)
	if err != nil {
		return nil, err
	}

	task.IsRunning = isRunning != 0
	if startRunning.Valid {
		task.StartRunning = time.Unix(startRunning.Int64, 0)
	}
	if pid.Valid {
		task.PID = int(pid.Int64)
	}
	return &task, nil
}

// MarkTaskRunning records that the task holds a live child process
func (s *TaskStorage) MarkTaskRunning(ctx context.Context, taskID int64, pid int) error {
	if _, err := s.db.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET is_running = 1, start_running = ?, pid = ? WHERE id = ?`,
		time.Now().Unix(), pid, taskID,
	); err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}

	s.logger.Debug().Int64("task_id", taskID).Int("pid", pid).Msg("Task marked running")
	return nil
}

// ClearTaskRunning resets is_running, start_running, and pid
func (s *TaskStorage) ClearTaskRunning(ctx context.Context, taskID int64) error {
	if _, err := s.db.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET is_running = 0, start_running = NULL, pid = NULL WHERE id = ?`,
		taskID,
	); err != nil {
		return fmt.Errorf("failed to clear task running: %w", err)
	}
	return nil
}

// AppendTaskLog inserts a new run log entry
func (s *TaskStorage) AppendTaskLog(ctx context.Context, log *models.TaskLog) error {
	var endTime sql.NullInt64
	if !log.EndTime.IsZero() {
		endTime.Valid = true
		endTime.Int64 = log.EndTime.Unix()
	}

	if _, err := s.db.db.ExecContext(ctx,
		`INSERT INTO task_logs (id, task_id, start_time, end_time, status, output) VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.TaskID, log.StartTime.Unix(), endTime, string(log.Status), log.Output,
	); err != nil {
		return fmt.Errorf("failed to append task log: %w", err)
	}
	return nil
}

// UpdateTaskLog promotes an existing log row, typically running to a
// terminal state with end time and captured output
func (s *TaskStorage) UpdateTaskLog(ctx context.Context, log *models.TaskLog) error {
	var endTime sql.NullInt64
	if !log.EndTime.IsZero() {
		endTime.Valid = true
		endTime.Int64 = log.EndTime.Unix()
	}

	if _, err := s.db.db.ExecContext(ctx,
		`UPDATE task_logs SET status = ?, end_time = ?, output = ? WHERE id = ?`,
		string(log.Status), endTime, log.Output, log.ID,
	); err != nil {
		return fmt.Errorf("failed to update task log: %w", err)
	}
	return nil
}

// ListTaskLogs returns recent run logs for a task, newest first
func (s *TaskStorage) ListTaskLogs(ctx context.Context, taskID int64, limit int) ([]*models.TaskLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.db.QueryContext(ctx,
		`SELECT id, task_id, start_time, end_time, status, output FROM task_logs
		 WHERE task_id = ? ORDER BY start_time DESC LIMIT ?`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list task logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.TaskLog{}
	for rows.Next() {
		var log models.TaskLog
		var status string
		var startTime int64
		var endTime sql.NullInt64
		var output sql.NullString

		if err := rows.Scan(&log.ID, &log.TaskID, &startTime, &endTime, &status, &output); err != nil {
			return nil, fmt.Errorf("failed to scan task log: %w", err)
		}

		log.StartTime = time.Unix(startTime, 0)
		if endTime.Valid {
			log.EndTime = time.Unix(endTime.Int64, 0)
		}
		log.Status = models.TaskLogStatus(status)
		log.Output = output.String
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
