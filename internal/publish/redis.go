package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the redis transport.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes messages to channels named <prefix>:<domain>:<event>.
type RedisPublisher struct {
	client redisClient
	prefix string
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisPublisher(client, cfg.ChannelPrefix), nil
}

func newRedisPublisher(c redisClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "streamgate"
	}
	return &RedisPublisher{client: c, prefix: prefix}
}

func (r *RedisPublisher) Name() string { return "redis" }

// Channel returns the channel m is published on.
func (r *RedisPublisher) Channel(m Message) string {
	return r.prefix + ":" + m.Domain + ":" + m.Event
}

func (r *RedisPublisher) Send(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.client.Publish(ctx, r.Channel(m), data).Err()
}

func (r *RedisPublisher) Close() error { return r.client.Close() }
