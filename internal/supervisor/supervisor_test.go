package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
	"github.com/ternarybob/dispatch/internal/storage/sqlite"
)

// stubProcess is a controllable fake child. Exit(code) releases Wait.
type stubProcess struct {
	pid     int
	exit    chan int
	stopped bool
	mu      sync.Mutex
}

func newStubProcess(pid int) *stubProcess {
	return &stubProcess{pid: pid, exit: make(chan int, 1)}
}

func (p *stubProcess) Wait() (int, error) {
	return <-p.exit, nil
}

func (p *stubProcess) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.exit <- 0
	return nil
}

func (p *stubProcess) PID() int { return p.pid }

func (p *stubProcess) Exit(code int) { p.exit <- code }

func (p *stubProcess) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// stubSpawner records every spawn call
type stubSpawner struct {
	mu      sync.Mutex
	nextPID int
	spawned []*stubProcess
	types   []models.JobType
}

func (s *stubSpawner) spawn(id int64, workerType models.JobType) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	proc := newStubProcess(s.nextPID)
	s.spawned = append(s.spawned, proc)
	s.types = append(s.types, workerType)
	return proc, nil
}

func (s *stubSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

func (s *stubSpawner) last() *stubProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned[len(s.spawned)-1]
}

func (s *stubSpawner) typeAt(i int) models.JobType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[i]
}

func setupSupervisor(t *testing.T) (*Supervisor, *stubSpawner, interfaces.WorkerStorage) {
	t.Helper()

	store, err := sqlite.NewStorageManager(common.GetLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		CacheSizeMB:   10,
		WALMode:       true,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	spawner := &stubSpawner{}
	config := &common.WorkersConfig{BinaryPath: "/bin/true", MaxPerType: 10}
	sup := NewWithSpawner(store.Workers, common.GetLogger(), config, spawner.spawn)

	return sup, spawner, store.Workers
}

func TestSupervisor_CreateWorker_RegistersAndSpawns(t *testing.T) {
	sup, spawner, registry := setupSupervisor(t)
	ctx := context.Background()

	id, err := sup.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)

	worker, err := registry.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeEmail, worker.Type)

	assert.Equal(t, 1, spawner.count())
	assert.Equal(t, 1, sup.RunningCount())
}

func TestSupervisor_CrashRespawnsSameWorker(t *testing.T) {
	sup, spawner, _ := setupSupervisor(t)
	ctx := context.Background()

	_, err := sup.CreateWorker(ctx, models.JobTypeWhatsApp)
	require.NoError(t, err)

	spawner.last().Exit(1)

	require.Eventually(t, func() bool {
		return spawner.count() == 2
	}, 2*time.Second, 10*time.Millisecond, "crashed worker must respawn")

	assert.Equal(t, models.JobTypeWhatsApp, spawner.typeAt(1), "respawn keeps the worker type")
	assert.Equal(t, 1, sup.RunningCount())
}

func TestSupervisor_CleanExitIsNotRespawned(t *testing.T) {
	sup, spawner, _ := setupSupervisor(t)
	ctx := context.Background()

	_, err := sup.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)

	spawner.last().Exit(0)

	require.Eventually(t, func() bool {
		return sup.RunningCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, spawner.count(), "clean exit must not respawn")
}

func TestSupervisor_StopWorker_NoRespawn(t *testing.T) {
	sup, spawner, registry := setupSupervisor(t)
	ctx := context.Background()

	id, err := sup.CreateWorker(ctx, models.JobTypeSMS)
	require.NoError(t, err)
	proc := spawner.last()

	found, err := sup.StopWorker(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, proc.Stopped())

	// The monitor sees an untracked handle and must not respawn
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, spawner.count())
	assert.Equal(t, 0, sup.RunningCount())

	worker, err := registry.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.False(t, worker.IsActive)

	found, err = sup.StopWorker(ctx, id)
	require.NoError(t, err)
	assert.False(t, found, "second stop finds no handle")
}

func TestSupervisor_ScaleWorkers(t *testing.T) {
	sup, spawner, registry := setupSupervisor(t)
	ctx := context.Background()

	require.NoError(t, sup.ScaleWorkers(ctx, models.JobTypeEmail, 3))
	assert.Equal(t, 3, spawner.count())
	assert.Equal(t, 3, sup.RunningCount())

	// Scale-down stops the oldest workers first
	require.NoError(t, sup.ScaleWorkers(ctx, models.JobTypeEmail, 1))
	assert.Equal(t, 1, sup.RunningCount())

	remaining, err := registry.ListWorkers(ctx, models.JobTypeEmail)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.True(t, spawner.spawned[0].Stopped())
	assert.True(t, spawner.spawned[1].Stopped())
	assert.False(t, spawner.spawned[2].Stopped())
}

func TestSupervisor_InitRestoresRegisteredWorkers(t *testing.T) {
	sup, spawner, registry := setupSupervisor(t)
	ctx := context.Background()

	_, err := registry.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)
	_, err = registry.CreateWorker(ctx, models.JobTypeCronjob)
	require.NoError(t, err)

	require.NoError(t, sup.Init(ctx))
	assert.Equal(t, 2, spawner.count())
	assert.Equal(t, 2, sup.RunningCount())
}

func TestSupervisor_Shutdown_StopsEverything(t *testing.T) {
	sup, spawner, _ := setupSupervisor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := sup.CreateWorker(ctx, models.JobTypeEmail)
		require.NoError(t, err)
	}

	require.NoError(t, sup.Shutdown(ctx))
	assert.Equal(t, 0, sup.RunningCount())
	for _, proc := range spawner.spawned {
		assert.True(t, proc.Stopped())
	}
}
