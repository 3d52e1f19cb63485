package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// RedisTransport implements the durable per-type backlog and pub/sub
// bus on a shared Redis instance. LPUSH on the producer side paired
// with RPOP on the consumer side yields per-type FIFO order.
type RedisTransport struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedisTransport connects to Redis and verifies the connection
func NewRedisTransport(logger arbor.ILogger, config *common.RedisConfig) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	logger.Info().Str("addr", config.Addr).Int("db", config.DB).Msg("Redis transport connected")
	return &RedisTransport{
		client: client,
		logger: logger,
	}, nil
}

// backlogKey is the list name holding the per-type FIFO
func backlogKey(jobType models.JobType) string {
	return "jobs:" + jobType.String()
}

// AddJob appends the entry to the per-type backlog and announces it
// on job:new. The two writes are not atomic with the job store; the
// store remains the source of truth and the backlog only drives
// notification latency.
func (t *RedisTransport) AddJob(ctx context.Context, msg *models.QueueMessage) error {
	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}

	if err := t.client.LPush(ctx, backlogKey(msg.Type), data).Err(); err != nil {
		return fmt.Errorf("failed to push job %d: %w", msg.JobID, err)
	}

	event, err := json.Marshal(&models.JobNewEvent{Type: msg.Type})
	if err != nil {
		return fmt.Errorf("failed to encode job:new event: %w", err)
	}
	if err := t.client.Publish(ctx, models.ChannelJobNew, event).Err(); err != nil {
		return fmt.Errorf("failed to publish job:new: %w", err)
	}

	t.logger.Debug().Int64("job_id", msg.JobID).Str("type", msg.Type.String()).Msg("Job enqueued")
	return nil
}

// NextJob pops the oldest backlog entry for the type
func (t *RedisTransport) NextJob(ctx context.Context, jobType models.JobType) (*models.QueueMessage, error) {
	data, err := t.client.RPop(ctx, backlogKey(jobType)).Result()
	if err == redis.Nil {
		return nil, models.ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop backlog for %s: %w", jobType, err)
	}

	msg, err := models.QueueMessageFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode queue message: %w", err)
	}
	return msg, nil
}

// PublishJobComplete emits a worker:job-complete event
func (t *RedisTransport) PublishJobComplete(ctx context.Context, event *models.JobCompleteEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode job-complete event: %w", err)
	}
	if err := t.client.Publish(ctx, models.ChannelJobComplete, data).Err(); err != nil {
		return fmt.Errorf("failed to publish job-complete: %w", err)
	}
	return nil
}

// PublishJobFailed emits a worker:job-failed event
func (t *RedisTransport) PublishJobFailed(ctx context.Context, event *models.JobFailedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode job-failed event: %w", err)
	}
	if err := t.client.Publish(ctx, models.ChannelJobFailed, data).Err(); err != nil {
		return fmt.Errorf("failed to publish job-failed: %w", err)
	}
	return nil
}

// Start subscribes to the completion channels and dispatches events to
// the registered handlers until the context is cancelled
func (t *RedisTransport) Start(ctx context.Context, handlers interfaces.CompletionHandlers) error {
	sub := t.client.Subscribe(ctx, models.ChannelJobComplete, models.ChannelJobFailed)

	// Confirm the subscription before returning so no event published
	// after Start is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to completion channels: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				t.dispatch(ctx, msg, handlers)
			}
		}
	}()

	t.logger.Info().Msg("Completion event subscriber started")
	return nil
}

func (t *RedisTransport) dispatch(ctx context.Context, msg *redis.Message, handlers interfaces.CompletionHandlers) {
	switch msg.Channel {
	case models.ChannelJobComplete:
		var event models.JobCompleteEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed event")
			return
		}
		if handlers.OnJobComplete != nil {
			handlers.OnJobComplete(ctx, &event)
		}
	case models.ChannelJobFailed:
		var event models.JobFailedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed event")
			return
		}
		if handlers.OnJobFailed != nil {
			handlers.OnJobFailed(ctx, &event)
		}
	}
}

// SubscribeJobNew returns a channel carrying job:new announcements.
// The channel closes when the context is cancelled.
func (t *RedisTransport) SubscribeJobNew(ctx context.Context) (<-chan *models.JobNewEvent, error) {
	sub := t.client.Subscribe(ctx, models.ChannelJobNew)

	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to job:new: %w", err)
	}

	out := make(chan *models.JobNewEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event models.JobNewEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					t.logger.Warn().Err(err).Msg("Dropping malformed job:new event")
					continue
				}
				select {
				case out <- &event:
				default:
					// Slow consumer; the 1s poll tick covers the miss
				}
			}
		}
	}()

	return out, nil
}

// Client exposes the underlying connection for the rate limiter
func (t *RedisTransport) Client() *redis.Client {
	return t.client
}

// Close closes the Redis connection
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
