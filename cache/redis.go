// cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/impostorserver/config"
	"github.com/wfunc/impostorserver/models"
)

// DefaultQueueName is the Redis list that resolved rounds are pushed to.
const DefaultQueueName = "impostor_rounds"

// Publisher hands finished rounds to whatever consumes them downstream.
type Publisher interface {
	PublishRound(ctx context.Context, record models.RoundRecord) error
	Close() error
}

// RedisPublisher pushes JSON round records onto a Redis list.
type RedisPublisher struct {
	rdb   *redis.Client
	queue string
}

// Connect dials Redis and checks it with a PING.
func Connect(cfg config.RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisPublisher(rdb, cfg.Queue), nil
}

func NewRedisPublisher(rdb *redis.Client, queue string) *RedisPublisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &RedisPublisher{rdb: rdb, queue: queue}
}

// PublishRound serializes the record and RPUSHes it to the queue.
func (p *RedisPublisher) PublishRound(ctx context.Context, record models.RoundRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal round record: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

func (p *RedisPublisher) Queue() string {
	return p.queue
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// NopPublisher is used when redis.enabled is false.
type NopPublisher struct{}

func (NopPublisher) PublishRound(context.Context, models.RoundRecord) error { return nil }

func (NopPublisher) Close() error { return nil }
