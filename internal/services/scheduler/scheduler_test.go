package scheduler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/coordinator"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
	"github.com/ternarybob/dispatch/internal/storage/sqlite"
)

type noopTransport struct{}

func (noopTransport) AddJob(context.Context, *models.QueueMessage) error { return nil }
func (noopTransport) NextJob(context.Context, models.JobType) (*models.QueueMessage, error) {
	return nil, models.ErrNoMessage
}
func (noopTransport) PublishJobComplete(context.Context, *models.JobCompleteEvent) error { return nil }
func (noopTransport) PublishJobFailed(context.Context, *models.JobFailedEvent) error     { return nil }
func (noopTransport) Start(context.Context, interfaces.CompletionHandlers) error         { return nil }
func (noopTransport) SubscribeJobNew(context.Context) (<-chan *models.JobNewEvent, error) {
	ch := make(chan *models.JobNewEvent)
	close(ch)
	return ch, nil
}
func (noopTransport) Close() error { return nil }

type noopSupervisor struct{}

func (noopSupervisor) Init(context.Context) error { return nil }
func (noopSupervisor) CreateWorker(context.Context, models.JobType) (int64, error) {
	return 0, nil
}
func (noopSupervisor) StopWorker(context.Context, int64) (bool, error)         { return false, nil }
func (noopSupervisor) ScaleWorkers(context.Context, models.JobType, int) error { return nil }
func (noopSupervisor) Shutdown(context.Context) error                          { return nil }

func setupCoordinator(t *testing.T) *coordinator.Service {
	t.Helper()

	store, err := sqlite.NewStorageManager(common.GetLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		CacheSizeMB:   10,
		WALMode:       true,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return coordinator.NewService(store.Jobs, store.Workers, noopTransport{}, noopSupervisor{}, common.GetLogger(), 10)
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	service := setupCoordinator(t)

	_, err := New(&common.SchedulerConfig{
		Entries: []common.SchedulerEntry{
			{Name: "bad", Schedule: "not a cron expr", Payload: `{"script":"x.sh"}`},
		},
	}, service, common.GetLogger())
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestNew_RejectsInvalidPayload(t *testing.T) {
	service := setupCoordinator(t)

	_, err := New(&common.SchedulerConfig{
		Entries: []common.SchedulerEntry{
			{Name: "bad", Schedule: "* * * * *", Payload: `{}`},
		},
	}, service, common.GetLogger())
	assert.ErrorContains(t, err, "invalid payload")
}

func TestScheduler_SubmitCreatesCronjob(t *testing.T) {
	service := setupCoordinator(t)

	sched, err := New(&common.SchedulerConfig{
		Entries: []common.SchedulerEntry{
			{Name: "nightly", Schedule: "0 3 * * *", Payload: `{"script":"report.sh"}`},
		},
	}, service, common.GetLogger())
	require.NoError(t, err)

	sched.submit("nightly", json.RawMessage(`{"script":"report.sh"}`))

	jobs, err := service.ListJobs(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeCronjob, jobs[0].Type)
	assert.JSONEq(t, `{"script":"report.sh"}`, string(jobs[0].Payload))
}
