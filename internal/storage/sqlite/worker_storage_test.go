package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/models"
)

func TestWorkerStorage_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	storage := NewWorkerStorage(db, common.GetLogger())
	ctx := context.Background()

	id, err := storage.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	worker, err := storage.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeEmail, worker.Type)
	assert.Equal(t, models.WorkerStatusIdle, worker.Status)
	assert.True(t, worker.IsActive)
}

func TestWorkerStorage_GetWorker_NotFound(t *testing.T) {
	db := setupTestDB(t)
	storage := NewWorkerStorage(db, common.GetLogger())

	_, err := storage.GetWorker(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrWorkerNotFound)
}

func TestWorkerStorage_ListWorkers_OldestFirst(t *testing.T) {
	db := setupTestDB(t)
	storage := NewWorkerStorage(db, common.GetLogger())
	ctx := context.Background()

	first, err := storage.CreateWorker(ctx, models.JobTypeSMS)
	require.NoError(t, err)
	second, err := storage.CreateWorker(ctx, models.JobTypeSMS)
	require.NoError(t, err)
	_, err = storage.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)

	sms, err := storage.ListWorkers(ctx, models.JobTypeSMS)
	require.NoError(t, err)
	require.Len(t, sms, 2)
	assert.Equal(t, first, sms[0].ID)
	assert.Equal(t, second, sms[1].ID)

	all, err := storage.ListWorkers(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWorkerStorage_UpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	storage := NewWorkerStorage(db, common.GetLogger())
	ctx := context.Background()

	id, err := storage.CreateWorker(ctx, models.JobTypeWhatsApp)
	require.NoError(t, err)

	require.NoError(t, storage.UpdateWorkerStatus(ctx, id, models.WorkerStatusBusy))

	worker, err := storage.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusBusy, worker.Status)
}

func TestWorkerStorage_DeleteWorker_Deactivates(t *testing.T) {
	db := setupTestDB(t)
	storage := NewWorkerStorage(db, common.GetLogger())
	ctx := context.Background()

	id, err := storage.CreateWorker(ctx, models.JobTypeNotification)
	require.NoError(t, err)

	require.NoError(t, storage.DeleteWorker(ctx, id))

	// The record survives but drops out of listings
	worker, err := storage.GetWorker(ctx, id)
	require.NoError(t, err)
	assert.False(t, worker.IsActive)

	active, err := storage.ListWorkers(ctx, models.JobTypeNotification)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, storage.DeleteWorker(ctx, 404), models.ErrWorkerNotFound)
}

func TestWorkerStorage_GetStats(t *testing.T) {
	db := setupTestDB(t)
	storage := NewWorkerStorage(db, common.GetLogger())
	ctx := context.Background()

	a, err := storage.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)
	_, err = storage.CreateWorker(ctx, models.JobTypeEmail)
	require.NoError(t, err)
	gone, err := storage.CreateWorker(ctx, models.JobTypeSMS)
	require.NoError(t, err)

	require.NoError(t, storage.UpdateWorkerStatus(ctx, a, models.WorkerStatusBusy))
	require.NoError(t, storage.DeleteWorker(ctx, gone))

	stats, err := storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus["busy"])
	assert.Equal(t, int64(1), stats.ByStatus["idle"])
	assert.Equal(t, int64(2), stats.ByType["email"])
	assert.Zero(t, stats.ByType["sms"])
}
