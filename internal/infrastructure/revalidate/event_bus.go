package revalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "memberdash:revalidate"

// Event is an invalidation another instance has to replay locally.
type Event struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
	Path       string    `json:"path"`
}

// EventBus fans invalidations out to the other instances over Redis pub/sub.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, path string) error {
	data, err := json.Marshal(&Event{
		Type:       MessageTypeRevalidate,
		InstanceID: eb.instanceID,
		Timestamp:  time.Now().UTC(),
		Path:       path,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published revalidation", "path", path, "channel", eb.channel)
	return nil
}

// Subscribe calls handler for every event from another instance until ctx
// is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := eb.decode(msg.Payload)
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if event == nil {
				continue
			}
			handler(event)
		}
	}
}

// decode returns nil for events this instance published itself.
func (eb *EventBus) decode(payload string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.InstanceID == eb.instanceID || event.Type != MessageTypeRevalidate {
		return nil, nil
	}
	return &event, nil
}
