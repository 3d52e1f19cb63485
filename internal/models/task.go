package models

import "time"

// TaskLogStatus represents the state of a single script run
type TaskLogStatus string

const (
	TaskLogStatusWaiting TaskLogStatus = "waiting"
	TaskLogStatusRunning TaskLogStatus = "running"
	TaskLogStatusSuccess TaskLogStatus = "success"
	TaskLogStatusFailed  TaskLogStatus = "failed"
)

// ScheduledTask mirrors a row in the task-scheduler database.
// While a script executes, PID points at the live child so external
// tooling can inspect or kill it.
type ScheduledTask struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	IsRunning    bool      `json:"isRunning"`
	StartRunning time.Time `json:"startRunning,omitempty"`
	PID          int       `json:"pid,omitempty"`
}

// TaskLog is one entry in the task run audit trail
type TaskLog struct {
	ID        string        `json:"id"`
	TaskID    int64         `json:"taskId"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime,omitempty"`
	Status    TaskLogStatus `json:"status"`
	Output    string        `json:"output,omitempty"`
}

// ScriptResult is the outcome of a script execution
type ScriptResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}
