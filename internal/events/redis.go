package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ukydev/urban-services/internal/config"
)

// RedisSink publishes booking events on a Redis channel so other processes
// (reporting, notification workers) can follow the booking lifecycle.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisClient creates a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisSink publishes to channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// HandleEvent publishes the event as JSON.
func (s *RedisSink) HandleEvent(ctx context.Context, event Event) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
