package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes each event on the per-stream channel.
type RedisPublisher struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedisPublisher publishes through client. The client is not closed by
// Close, since it is usually shared with the live index.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// DialRedisPublisher connects a dedicated client and checks it with PING.
func DialRedisPublisher(ctx context.Context, opts *redis.Options) (*RedisPublisher, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisPublisher{client: client, owned: true}, nil
}

func (r *RedisPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	if err := r.client.Publish(ctx, StreamChannel(event.StreamID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func (r *RedisPublisher) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
