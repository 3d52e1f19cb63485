package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

func setupTransport(t *testing.T) (*RedisTransport, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	transport, err := NewRedisTransport(common.GetLogger(), &common.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { transport.Close() })

	return transport, mr
}

func TestRedisTransport_BacklogFIFO(t *testing.T) {
	transport, _ := setupTransport(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, transport.AddJob(ctx, &models.QueueMessage{
			JobID:   i,
			Type:    models.JobTypeEmail,
			Payload: json.RawMessage(`{"seq":1}`),
		}))
	}

	for i := int64(1); i <= 3; i++ {
		msg, err := transport.NextJob(ctx, models.JobTypeEmail)
		require.NoError(t, err)
		assert.Equal(t, i, msg.JobID, "backlog must preserve submission order")
	}

	_, err := transport.NextJob(ctx, models.JobTypeEmail)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestRedisTransport_BacklogIsolatedPerType(t *testing.T) {
	transport, _ := setupTransport(t)
	ctx := context.Background()

	require.NoError(t, transport.AddJob(ctx, &models.QueueMessage{
		JobID: 1, Type: models.JobTypeSMS, Payload: json.RawMessage(`{"n":"+61"}`),
	}))

	_, err := transport.NextJob(ctx, models.JobTypeEmail)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	msg, err := transport.NextJob(ctx, models.JobTypeSMS)
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.JobID)
}

func TestRedisTransport_JobNewAnnouncement(t *testing.T) {
	transport, _ := setupTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := transport.SubscribeJobNew(ctx)
	require.NoError(t, err)

	require.NoError(t, transport.AddJob(ctx, &models.QueueMessage{
		JobID: 7, Type: models.JobTypeWhatsApp, Payload: json.RawMessage(`{"m":"hi"}`),
	}))

	select {
	case event := <-events:
		assert.Equal(t, models.JobTypeWhatsApp, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job:new event")
	}
}

func TestRedisTransport_CompletionEvents(t *testing.T) {
	transport, _ := setupTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completed := make(chan *models.JobCompleteEvent, 1)
	failed := make(chan *models.JobFailedEvent, 1)

	require.NoError(t, transport.Start(ctx, interfaces.CompletionHandlers{
		OnJobComplete: func(_ context.Context, event *models.JobCompleteEvent) {
			completed <- event
		},
		OnJobFailed: func(_ context.Context, event *models.JobFailedEvent) {
			failed <- event
		},
	}))

	require.NoError(t, transport.PublishJobComplete(ctx, &models.JobCompleteEvent{
		JobID: 1, WorkerID: 2, Result: map[string]interface{}{"ok": true},
	}))
	require.NoError(t, transport.PublishJobFailed(ctx, &models.JobFailedEvent{
		JobID: 3, WorkerID: 2, Error: "boom",
	}))

	select {
	case event := <-completed:
		assert.Equal(t, int64(1), event.JobID)
		assert.Equal(t, int64(2), event.WorkerID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	select {
	case event := <-failed:
		assert.Equal(t, int64(3), event.JobID)
		assert.Equal(t, "boom", event.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}
}
