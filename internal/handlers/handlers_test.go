package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
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

// registrySupervisor registers workers without spawning processes
type registrySupervisor struct {
	registry interfaces.WorkerStorage
	handles  map[int64]bool
}

func (s *registrySupervisor) Init(context.Context) error { return nil }

func (s *registrySupervisor) CreateWorker(ctx context.Context, workerType models.JobType) (int64, error) {
	id, err := s.registry.CreateWorker(ctx, workerType)
	if err == nil {
		s.handles[id] = true
	}
	return id, err
}

func (s *registrySupervisor) StopWorker(ctx context.Context, id int64) (bool, error) {
	if !s.handles[id] {
		return false, nil
	}
	delete(s.handles, id)
	return true, s.registry.DeleteWorker(ctx, id)
}

func (s *registrySupervisor) ScaleWorkers(ctx context.Context, workerType models.JobType, desired int) error {
	current, err := s.registry.ListWorkers(ctx, workerType)
	if err != nil {
		return err
	}
	for i := len(current); i < desired; i++ {
		if _, err := s.CreateWorker(ctx, workerType); err != nil {
			return err
		}
	}
	for i := 0; i < len(current)-desired; i++ {
		if _, err := s.StopWorker(ctx, current[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *registrySupervisor) Shutdown(context.Context) error { return nil }

// setupAPI builds the full handler surface on a test server
func setupAPI(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := sqlite.NewStorageManager(common.GetLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "test.db"),
		CacheSizeMB:   10,
		WALMode:       true,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sup := &registrySupervisor{registry: store.Workers, handles: map[int64]bool{}}
	service := coordinator.NewService(store.Jobs, store.Workers, noopTransport{}, sup, common.GetLogger(), 10)

	logger := common.GetLogger()
	jobHandler := NewJobHandler(service, logger)
	workerHandler := NewWorkerHandler(service, logger)
	systemHandler := NewSystemHandler(service, logger, map[string]HealthCheck{
		"database": func() error { return nil },
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", jobHandler.HandleJobs)
	mux.HandleFunc("/api/jobs/", jobHandler.HandleJobPath)
	mux.HandleFunc("/api/workers", workerHandler.HandleWorkers)
	mux.HandleFunc("/api/workers/scale", workerHandler.HandleScale)
	mux.HandleFunc("/api/workers/", workerHandler.HandleWorkerPath)
	mux.HandleFunc("/api/stats", systemHandler.HandleStats)
	mux.HandleFunc("/api/health", systemHandler.HandleHealth)
	mux.HandleFunc("/api/version", systemHandler.HandleVersion)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAPI_CreateAndFetchJob(t *testing.T) {
	server := setupAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/jobs", `{"type":"email","payload":{"to":"a@b.c"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var jobID int64
	require.NoError(t, json.Unmarshal(body["jobId"], &jobID))
	assert.Greater(t, jobID, int64(0))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/jobs/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job models.Job
	require.NoError(t, json.Unmarshal(body["job"], &job))
	assert.Equal(t, models.JobTypeEmail, job.Type)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestAPI_CreateJob_ValidationMessages(t *testing.T) {
	server := setupAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/jobs", `{"type":"fax","payload":{"a":1}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `"Invalid job type"`, string(body["error"]))

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/jobs", `{"type":"email","payload":{}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `"Payload must be a non-empty object"`, string(body["error"]))
}

func TestAPI_GetJob_NotFound(t *testing.T) {
	server := setupAPI(t)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/jobs/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_UpdateJob(t *testing.T) {
	server := setupAPI(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/jobs", `{"type":"sms","payload":{"n":"+61"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPatch, server.URL+"/api/jobs/1",
		`{"status":"completed","workerId":5,"result":{"ok":true}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `true`, string(body["success"]))

	_, body = doJSON(t, http.MethodGet, server.URL+"/api/jobs/1", "")
	var job models.Job
	require.NoError(t, json.Unmarshal(body["job"], &job))
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.WorkerID)
	assert.Equal(t, int64(5), *job.WorkerID)
}

func TestAPI_ClaimNextJob(t *testing.T) {
	server := setupAPI(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/jobs", `{"type":"email","payload":{"a":1}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/jobs/next/email?workerId=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job models.Job
	require.NoError(t, json.Unmarshal(body["job"], &job))
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	require.NotNil(t, job.WorkerID)
	assert.Equal(t, int64(3), *job.WorkerID)

	// Drained queue responds 200 with a null job
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/jobs/next/email?workerId=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `null`, string(body["job"]))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/jobs/next/fax", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `"Invalid job type"`, string(body["error"]))
}

func TestAPI_WorkerLifecycle(t *testing.T) {
	server := setupAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/workers", `{"type":"email"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var workerID int64
	require.NoError(t, json.Unmarshal(body["workerId"], &workerID))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/workers/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var worker models.Worker
	require.NoError(t, json.Unmarshal(body["worker"], &worker))
	assert.Equal(t, models.WorkerStatusIdle, worker.Status)

	resp, _ = doJSON(t, http.MethodPatch, server.URL+"/api/workers/1", `{"status":"busy"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/workers/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/workers/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ScaleWorkers(t *testing.T) {
	server := setupAPI(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/workers/scale", `{"type":"sms","count":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/workers?type=sms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var workers []models.Worker
	require.NoError(t, json.Unmarshal(body["workers"], &workers))
	assert.Len(t, workers, 3)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/workers/scale", `{"type":"sms","count":99}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Stats(t *testing.T) {
	server := setupAPI(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/jobs", `{"type":"email","payload":{"a":1}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/workers", `{"type":"email"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var jobs models.JobStats
	require.NoError(t, json.Unmarshal(body["jobs"], &jobs))
	assert.Equal(t, int64(1), jobs.Total)
	assert.Equal(t, int64(1), jobs.ByStatus["pending"])

	var workers models.WorkerStats
	require.NoError(t, json.Unmarshal(body["workers"], &workers))
	assert.Equal(t, int64(1), workers.Total)
}

func TestAPI_HealthAndVersion(t *testing.T) {
	server := setupAPI(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"healthy"`, string(body["status"]))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["version"])
}
