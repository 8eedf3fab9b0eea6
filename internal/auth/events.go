package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultEventChannel is the pub/sub channel carrying auth events between
// panel processes.
const DefaultEventChannel = "lexofis:auth:events"

// RedisEventBus carries auth events over a Redis pub/sub channel. It is both
// the publisher used after a local sign-out and the event source feeding the
// reconciler in sibling processes.
type RedisEventBus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisEventBus constructs a bus on the given channel; an empty channel
// name falls back to DefaultEventChannel.
func NewRedisEventBus(client *redis.Client, channel string, logger *slog.Logger) *RedisEventBus {
	if channel == "" {
		channel = DefaultEventChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisEventBus{client: client, channel: channel, logger: logger}
}

// Publish broadcasts the event to all subscribers.
func (b *RedisEventBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event bus: marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("event bus: publish: %w", err)
	}
	return nil
}

// Subscribe delivers events until ctx is cancelled. Malformed payloads are
// logged and skipped.
func (b *RedisEventBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("event bus: subscribe: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer func() {
			if err := sub.Close(); err != nil {
				b.logger.Warn("event bus close", slog.Any("error", err))
			}
		}()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("event bus payload", slog.Any("error", err))
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

var (
	_ EventPublisher = (*RedisEventBus)(nil)
	_ EventSource    = (*RedisEventBus)(nil)
)
