package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/perparb/internal/domain"
)

const defaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus with Pub/Sub for alerts and Streams
// for the durable cycle report log.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus. Streams are trimmed to about maxLen
// entries; zero uses 10000.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends a payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to a channel, or a pattern when the name contains
// glob characters. The returned channel is closed when ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload with XADD MAXLEN ~.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count entries after lastID ("0" for the start).
// It returns an empty slice when nothing is available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			if data, ok := payloadBytes(msg.Values["payload"]); ok {
				messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
			}
		}
	}
	return messages, nil
}

func payloadBytes(v any) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
