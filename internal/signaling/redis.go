package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisChannel carries call record change events over Redis Pub/Sub so every API
// instance (and therefore every signed-in user's notifier) observes them.
//
// Channel layout:
//   signaling:call:<call_id>       all events for one call
//   signaling:recipient:<user_id>  all events addressed to one recipient
//
// Redis Pub/Sub is fire-and-forget per connected subscriber; combined with the
// publish-after-commit ordering in the call service this yields the at-least-once,
// possibly-reordered delivery the consumers are written for.
type RedisChannel struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisChannel(rdb *redis.Client, log *slog.Logger) *RedisChannel {
	if log == nil {
		log = slog.Default()
	}
	return &RedisChannel{rdb: rdb, log: log}
}

func callTopic(callID string) string       { return "signaling:call:" + callID }
func recipientTopic(userID string) string  { return "signaling:recipient:" + userID }

func (c *RedisChannel) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("signaling: marshal event: %w", err)
	}
	if err := c.rdb.Publish(ctx, callTopic(e.Record.ID), payload).Err(); err != nil {
		return fmt.Errorf("signaling: publish call topic: %w", err)
	}
	if err := c.rdb.Publish(ctx, recipientTopic(e.Record.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("signaling: publish recipient topic: %w", err)
	}
	return nil
}

func (c *RedisChannel) SubscribeCall(ctx context.Context, callID string) (<-chan Event, func(), error) {
	return c.subscribe(ctx, callTopic(callID))
}

func (c *RedisChannel) SubscribeRecipient(ctx context.Context, recipientID string) (<-chan Event, func(), error) {
	return c.subscribe(ctx, recipientTopic(recipientID))
}

func (c *RedisChannel) subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	ps := c.rdb.Subscribe(ctx, topic)

	// Force the SUBSCRIBE round-trip so a broken connection surfaces here, not as
	// silently missed events. A caller-side call cannot proceed without signaling.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("signaling: subscribe %s: %w", topic, err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					c.log.Warn("signaling: dropping malformed event", "topic", topic, "err", err)
					continue
				}
				select {
				case out <- e:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
