package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSink publishes events to a Redis channel for downstream consumers
// (billing, notifications). Delivery is best-effort; a publish failure is
// logged and dropped, never propagated back into the transaction path.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(addr, channel string) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Ping verifies connectivity at startup.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Emit implements Sink.
func (s *RedisSink) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		log.Warn().Err(err).Str("event_type", event.Type).Msg("redis event publish failed")
	}
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
