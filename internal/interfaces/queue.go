package interfaces

import (
	"context"

	"github.com/ternarybob/dispatch/internal/models"
)

// CompletionHandlers are invoked by the transport when workers publish
// terminal job events. Both must be idempotent.
type CompletionHandlers struct {
	OnJobComplete func(ctx context.Context, event *models.JobCompleteEvent)
	OnJobFailed   func(ctx context.Context, event *models.JobFailedEvent)
}

// QueueTransport is the durable per-type backlog plus pub/sub bus
type QueueTransport interface {
	// AddJob appends the entry to the per-type backlog and announces it
	AddJob(ctx context.Context, msg *models.QueueMessage) error

	// NextJob pops the oldest backlog entry for the type, or
	// models.ErrNoMessage when the backlog is empty
	NextJob(ctx context.Context, jobType models.JobType) (*models.QueueMessage, error)

	// PublishJobComplete / PublishJobFailed emit terminal events
	PublishJobComplete(ctx context.Context, event *models.JobCompleteEvent) error
	PublishJobFailed(ctx context.Context, event *models.JobFailedEvent) error

	// Start subscribes to the completion channels and dispatches to the
	// registered handlers until the context is cancelled
	Start(ctx context.Context, handlers CompletionHandlers) error

	// SubscribeJobNew returns a channel carrying job:new announcements.
	// The channel closes when the context is cancelled.
	SubscribeJobNew(ctx context.Context) (<-chan *models.JobNewEvent, error)

	Close() error
}

// RateLimiter is the advisory token-bucket primitive. Allow returns
// true to proceed; false means retry after a short delay.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
