package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks semaphore/liveclass/internal/notify Publisher

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Notifier accepts events without blocking the caller. Delivery is best effort.
type Notifier interface {
	Notify(channel string, event Event)
}

type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, channel, err)
	}
	return nil
}
