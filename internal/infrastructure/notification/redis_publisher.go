package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisClient is the part of the go-redis client the publisher uses
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes notifications on a Redis Pub/Sub channel
type RedisPublisher struct {
	client  redisClient
	channel string
	logger  *zap.Logger
}

// RedisOptions holds the Redis connection settings
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisPublisher connects to Redis and returns a publisher for channel
func NewRedisPublisher(opts RedisOptions, channel string, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis notification publisher connected",
		zap.String("addr", opts.Addr),
		zap.String("channel", channel))

	return newRedisPublisher(client, channel, logger), nil
}

func newRedisPublisher(client redisClient, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish sends payload to the channel. The key is carried inside the payload.
func (p *RedisPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", p.channel, err)
	}
	p.logger.Debug("Published notification",
		zap.String("channel", p.channel),
		zap.String("account_id", key),
		zap.Int64("receivers", receivers))
	return nil
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
