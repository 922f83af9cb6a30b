package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/live-service/internal/config"
)

// New creates the Publisher selected by cfg.Driver. A shared redis client is
// reused by the redis driver when given; otherwise one is dialled.
func New(ctx context.Context, cfg config.PubSubConfig, shared redis.UniversalClient) (Publisher, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
	case "redis":
		if shared != nil {
			return NewRedisPublisher(shared), nil
		}
		return DialRedisPublisher(ctx, &redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "", "none":
		return NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", cfg.Driver)
	}
}
