package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var (
	_ domain.EventPublisher = (*EventBus)(nil)
	_ domain.EventSource    = (*EventBus)(nil)
)

// streamMaxLen caps the event stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus publishes adapter events to a Redis stream, for history, and a
// pub/sub channel, for live fan-out to every instance's WebSocket hub.
type EventBus struct {
	client  *Client
	channel string
	stream  string
	maxLen  int64
	logger  *slog.Logger
}

// NewEventBus creates an EventBus. maxLen <= 0 uses the default cap.
func NewEventBus(c *Client, maxLen int64, logger *slog.Logger) *EventBus {
	if maxLen <= 0 {
		maxLen = streamMaxLen
	}
	return &EventBus{
		client:  c,
		channel: c.key("events"),
		stream:  c.key("events", "log"),
		maxLen:  maxLen,
		logger:  logger.With(slog.String("component", "redis_event_bus")),
	}
}

// Publish appends ev to the stream and announces it on the channel in one
// pipeline.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", ev.Type, err)
	}

	_, err = b.client.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: b.maxLen,
			Approx: true,
			Values: map[string]any{"type": string(ev.Type), "payload": payload},
		})
		p.Publish(ctx, b.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish event %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe streams events announced after the call. The channel closes
// when ctx is done or the subscription drops.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := b.client.rdb.Subscribe(ctx, b.channel)
	// Wait for the confirmation so no event published after return is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	out := make(chan domain.Event, 128)
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
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WarnContext(ctx, "dropping malformed event",
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent reads up to limit of the newest stream entries, oldest first.
func (b *EventBus) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := b.client.rdb.XRevRangeN(ctx, b.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read events: %w", err)
	}

	out := make([]domain.Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		var data []byte
		switch v := msgs[i].Values["payload"].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
