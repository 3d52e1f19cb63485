package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
	"github.com/ternarybob/dispatch/internal/storage/sqlite"
)

// stubProber replays a fixed sequence of CPU readings, then repeats
// the last one
type stubProber struct {
	cpu []float64
	mem float64
	i   int
}

func (p *stubProber) CPUPercent() (float64, error) {
	if p.i < len(p.cpu)-1 {
		v := p.cpu[p.i]
		p.i++
		return v, nil
	}
	return p.cpu[len(p.cpu)-1], nil
}

func (p *stubProber) MemoryPercent() (float64, error) {
	return p.mem, nil
}

func setupRunner(t *testing.T, prober ResourceProber) (*Runner, interfaces.TaskStorage, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := sqlite.NewTaskDB(common.GetLogger(), filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewTaskStorage(db, common.GetLogger())
	config := &common.ScriptConfig{
		Dir:              dir,
		CPUThreshold:     80,
		MemoryThreshold:  85,
		CheckInterval:    time.Millisecond,
		CheckRetries:     3,
		NodeInterpreter:  "node",
		OutputBufferSize: 64 * 1024,
	}

	runner := NewRunnerWithProber(config, store, prober, common.GetLogger())
	runner.sleep = func(time.Duration) {}
	return runner, store, dir
}

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0755))
}

func TestRunner_SuccessfulRun(t *testing.T) {
	runner, store, dir := setupRunner(t, &stubProber{cpu: []float64{10}, mem: 20})
	writeScript(t, dir, "hello.sh", "#!/bin/sh\necho hello world\n")
	ctx := context.Background()

	result, err := runner.Run(ctx, "hello.sh")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello world")

	task, err := store.GetTaskByName(ctx, "hello.sh")
	require.NoError(t, err)
	assert.False(t, task.IsRunning, "running flag is cleared after exit")

	logs, err := store.ListTaskLogs(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.TaskLogStatusSuccess, logs[0].Status)
	assert.Contains(t, logs[0].Output, "hello world")
	assert.False(t, logs[0].EndTime.IsZero())
}

func TestRunner_NonZeroExitFailsTask(t *testing.T) {
	runner, store, dir := setupRunner(t, &stubProber{cpu: []float64{10}, mem: 20})
	writeScript(t, dir, "broken.sh", "#!/bin/sh\necho something wrong >&2\nexit 3\n")
	ctx := context.Background()

	result, err := runner.Run(ctx, "broken.sh")
	require.Error(t, err)
	assert.ErrorContains(t, err, "exited with code 3")
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Output, "something wrong")

	task, err := store.GetTaskByName(ctx, "broken.sh")
	require.NoError(t, err)
	logs, err := store.ListTaskLogs(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.TaskLogStatusFailed, logs[0].Status)
}

func TestRunner_WaitsForHeadroom(t *testing.T) {
	// Loaded on the first two probes, free on the third
	runner, store, dir := setupRunner(t, &stubProber{cpu: []float64{95, 90, 10}, mem: 20})
	writeScript(t, dir, "gated.sh", "#!/bin/sh\necho ran\n")
	ctx := context.Background()

	result, err := runner.Run(ctx, "gated.sh")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "ran")

	task, err := store.GetTaskByName(ctx, "gated.sh")
	require.NoError(t, err)
	logs, err := store.ListTaskLogs(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.TaskLogStatusSuccess, logs[0].Status)
}

func TestRunner_GateExhaustionFails(t *testing.T) {
	runner, store, dir := setupRunner(t, &stubProber{cpu: []float64{99}, mem: 20})
	writeScript(t, dir, "starved.sh", "#!/bin/sh\necho never\n")
	ctx := context.Background()

	_, err := runner.Run(ctx, "starved.sh")
	require.Error(t, err)
	assert.ErrorContains(t, err, "resource thresholds")

	task, err := store.GetTaskByName(ctx, "starved.sh")
	require.NoError(t, err)
	assert.False(t, task.IsRunning)

	logs, err := store.ListTaskLogs(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.TaskLogStatusFailed, logs[0].Status)
}

func TestRunner_MemoryThresholdGates(t *testing.T) {
	runner, _, dir := setupRunner(t, &stubProber{cpu: []float64{10}, mem: 95})
	writeScript(t, dir, "memhog.sh", "#!/bin/sh\necho never\n")

	_, err := runner.Run(context.Background(), "memhog.sh")
	require.Error(t, err)
	assert.ErrorContains(t, err, "resource thresholds")
}

func TestRunner_JSUsesConfiguredInterpreter(t *testing.T) {
	runner, _, dir := setupRunner(t, &stubProber{cpu: []float64{10}, mem: 20})
	// cat as the interpreter just prints the script back, which proves
	// the .js path went through the interpreter instead of the shell
	runner.config.NodeInterpreter = "cat"
	writeScript(t, dir, "task.js", "console.log('hi');\n")

	result, err := runner.Run(context.Background(), "task.js")
	require.NoError(t, err)
	assert.Contains(t, result.Output, "console.log('hi');")
}

func TestRunner_Execute_ValidatesPayload(t *testing.T) {
	runner, _, dir := setupRunner(t, &stubProber{cpu: []float64{10}, mem: 20})
	writeScript(t, dir, "job.sh", "#!/bin/sh\necho ok\n")
	ctx := context.Background()

	result, err := runner.Execute(ctx, []byte(`{"script":"job.sh"}`))
	require.NoError(t, err)
	scriptResult, ok := result.(*models.ScriptResult)
	require.True(t, ok)
	assert.Contains(t, scriptResult.Output, "ok")

	_, err = runner.Execute(ctx, []byte(`{}`))
	assert.ErrorContains(t, err, "script name is required")

	_, err = runner.Execute(ctx, []byte(`nope`))
	assert.ErrorContains(t, err, "invalid script payload")
}

func TestBoundedBuffer_Truncates(t *testing.T) {
	buf := newBoundedBuffer(8)
	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n, "writer sees full length so the child never blocks")
	assert.Contains(t, buf.String(), "01234567")
	assert.Contains(t, buf.String(), "[output truncated]")
}
