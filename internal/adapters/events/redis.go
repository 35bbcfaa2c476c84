// Package events mirrors room events to Redis pub/sub for external observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/duocast/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	Channel      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisPublisher implements core.EventSink on a single Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

var _ core.EventSink = (*RedisPublisher)(nil)

func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Channel == "" {
		return nil, fmt.Errorf("redis channel is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("module", "events").Str("addr", cfg.Address).Str("channel", cfg.Channel).Msg("redis event mirror connected")
	return &RedisPublisher{client: client, channel: cfg.Channel}, nil
}

func (r *RedisPublisher) Publish(ctx context.Context, ev core.RoomEvent) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

// Encode is the JSON wire form of a mirrored event.
func Encode(ev core.RoomEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}
