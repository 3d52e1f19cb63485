package supervisor

import (
	"bufio"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/ternarybob/dispatch/internal/models"
)

// execProcess wraps an os/exec child with stdout/stderr piped into the
// structured log
type execProcess struct {
	cmd *exec.Cmd
}

// spawnCommand starts the configured worker binary with -id and -type
// flags and wires its output into the supervisor log
func (s *Supervisor) spawnCommand(id int64, workerType models.JobType) (Process, error) {
	cmd := exec.Command(s.config.BinaryPath,
		"-id", strconv.FormatInt(id, 10),
		"-type", workerType.String(),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			s.logger.Info().
				Int64("worker_id", id).
				Str("stream", "stdout").
				Msg(scanner.Text())
		}
	}()
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Warn().
				Int64("worker_id", id).
				Str("stream", "stderr").
				Msg(scanner.Text())
		}
	}()

	return &execProcess{cmd: cmd}, nil
}

// Wait blocks until the child exits and returns its exit code
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Stop sends SIGTERM so the worker can exit 0 and not be restarted
func (p *execProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// PID returns the child process id
func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
