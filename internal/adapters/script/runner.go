package script

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// Runner executes scheduled scripts behind a host resource gate.
// Before launching, it probes CPU and memory and waits while the host
// is loaded; every wait and every run leaves a row in the task log.
type Runner struct {
	config *common.ScriptConfig
	store  interfaces.TaskStorage
	prober ResourceProber
	logger arbor.ILogger
	sleep  func(time.Duration)
}

// runRequest is the cronjob payload shape
type runRequest struct {
	Script string `json:"script"`
}

// NewRunner creates a script runner with the gopsutil host prober
func NewRunner(config *common.ScriptConfig, store interfaces.TaskStorage, logger arbor.ILogger) *Runner {
	return NewRunnerWithProber(config, store, NewHostProber(), logger)
}

// NewRunnerWithProber allows substituting the resource prober
func NewRunnerWithProber(config *common.ScriptConfig, store interfaces.TaskStorage, prober ResourceProber, logger arbor.ILogger) *Runner {
	return &Runner{
		config: config,
		store:  store,
		prober: prober,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Execute implements the worker adapter contract for cronjob jobs
func (r *Runner) Execute(ctx context.Context, payload []byte) (interface{}, error) {
	var req runRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid script payload: %w", err)
	}
	if req.Script == "" {
		return nil, fmt.Errorf("script name is required")
	}
	return r.Run(ctx, req.Script)
}

// Run executes one named script end to end: register the task, wait
// for headroom, launch, capture output, record the outcome.
func (r *Runner) Run(ctx context.Context, name string) (*models.ScriptResult, error) {
	task, err := r.store.GetTaskByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", name, err)
	}

	taskLog := &models.TaskLog{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		StartTime: time.Now(),
		Status:    models.TaskLogStatusWaiting,
	}
	if err := r.store.AppendTaskLog(ctx, taskLog); err != nil {
		r.logger.Warn().Err(err).Str("task", name).Msg("Failed to append task log")
	}

	if err := r.waitForHeadroom(ctx, name, taskLog); err != nil {
		taskLog.Status = models.TaskLogStatusFailed
		taskLog.EndTime = time.Now()
		taskLog.Output = err.Error()
		r.updateLog(ctx, taskLog)
		return nil, err
	}

	result, runErr := r.launch(ctx, task, taskLog, name)

	taskLog.EndTime = time.Now()
	if runErr != nil {
		taskLog.Status = models.TaskLogStatusFailed
		taskLog.Output = runErr.Error()
	} else if result.ExitCode != 0 {
		taskLog.Status = models.TaskLogStatusFailed
		taskLog.Output = result.Output
	} else {
		taskLog.Status = models.TaskLogStatusSuccess
		taskLog.Output = result.Output
	}
	r.updateLog(ctx, taskLog)

	if err := r.store.ClearTaskRunning(ctx, task.ID); err != nil {
		r.logger.Warn().Err(err).Str("task", name).Msg("Failed to clear running flag")
	}

	if runErr != nil {
		return nil, runErr
	}
	if result.ExitCode != 0 {
		return result, fmt.Errorf("script %s exited with code %d", name, result.ExitCode)
	}
	return result, nil
}

// waitForHeadroom blocks until host utilization drops below the
// configured thresholds, re-probing every check interval. Exhausting
// the retries fails the run.
func (r *Runner) waitForHeadroom(ctx context.Context, name string, taskLog *models.TaskLog) error {
	retries := r.config.CheckRetries
	if retries <= 0 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		cpu, memory, err := r.probe()
		if err != nil {
			r.logger.Warn().Err(err).Str("task", name).Msg("Resource probe failed")
		} else if cpu < r.config.CPUThreshold && memory < r.config.MemoryThreshold {
			return nil
		} else {
			r.logger.Info().
				Str("task", name).
				Float64("cpu", cpu).
				Float64("memory", memory).
				Int("attempt", attempt).
				Msg("Host loaded, delaying script")
			taskLog.Output = fmt.Sprintf("waiting for resources: cpu %.1f%%, memory %.1f%% (attempt %d/%d)", cpu, memory, attempt, retries)
			r.updateLog(ctx, taskLog)
		}

		if attempt < retries {
			r.sleep(r.config.CheckInterval)
		}
	}

	return fmt.Errorf("host stayed above resource thresholds after %d checks", retries)
}

func (r *Runner) probe() (float64, float64, error) {
	cpu, err := r.prober.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	memory, err := r.prober.MemoryPercent()
	if err != nil {
		return 0, 0, err
	}
	return cpu, memory, nil
}

// launch starts the script process, records its PID, and waits for
// exit with bounded output capture
func (r *Runner) launch(ctx context.Context, task *models.ScheduledTask, taskLog *models.TaskLog, name string) (*models.ScriptResult, error) {
	cmd := r.command(ctx, name)

	bufSize := r.config.OutputBufferSize
	if bufSize <= 0 {
		bufSize = 1 * 1024 * 1024
	}
	stdout := newBoundedBuffer(bufSize)
	stderr := newBoundedBuffer(bufSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start script %s: %w", name, err)
	}

	if err := r.store.MarkTaskRunning(ctx, task.ID, cmd.Process.Pid); err != nil {
		r.logger.Warn().Err(err).Str("task", name).Msg("Failed to mark task running")
	}
	taskLog.Status = models.TaskLogStatusRunning
	r.updateLog(ctx, taskLog)

	r.logger.Info().Str("task", name).Int("pid", cmd.Process.Pid).Msg("Script started")

	waitErr := cmd.Wait()

	result := &models.ScriptResult{
		Output: combineOutput(stdout, stderr),
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Error = waitErr.Error()
			return result, nil
		}
		return nil, fmt.Errorf("script %s failed: %w", name, waitErr)
	}
	return result, nil
}

// command builds the exec invocation: node for .js scripts, the shell
// for everything else
func (r *Runner) command(ctx context.Context, name string) *exec.Cmd {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.config.Dir, name)
	}

	if strings.HasSuffix(name, ".js") {
		interpreter := r.config.NodeInterpreter
		if interpreter == "" {
			interpreter = "node"
		}
		return exec.CommandContext(ctx, interpreter, path)
	}
	return exec.CommandContext(ctx, "sh", "-c", path)
}

func (r *Runner) updateLog(ctx context.Context, taskLog *models.TaskLog) {
	if err := r.store.UpdateTaskLog(ctx, taskLog); err != nil {
		r.logger.Warn().Err(err).Str("log_id", taskLog.ID).Msg("Failed to update task log")
	}
}

func combineOutput(stdout, stderr *boundedBuffer) string {
	out := stdout.String()
	errOut := stderr.String()
	if errOut == "" {
		return out
	}
	if out == "" {
		return errOut
	}
	return out + "\n" + errOut
}

// boundedBuffer keeps the first max bytes written and drops the rest.
// Long-running scripts can emit unbounded output; the task log only
// needs the head.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - len(b.buf)
	if remaining > 0 {
		if len(p) > remaining {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}
