package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel — канал Redis pub/sub для событий синхронизации.
const DefaultRedisChannel = "smmsync:events"

// publisher — часть redis.Cmdable, которая нужна синку.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink публикует события в канал Redis pub/sub.
type RedisSink struct {
	client  publisher
	channel string
}

// NewRedisSink создаёт синк поверх клиента go-redis.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Name реализует Sink.
func (s *RedisSink) Name() string { return "redis" }

// Deliver публикует событие. Отсутствие подписчиков ошибкой не считается.
func (s *RedisSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis channel %s: %w", s.channel, err)
	}
	return nil
}

var _ Sink = (*RedisSink)(nil)
