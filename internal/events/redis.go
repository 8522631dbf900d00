package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisHandler publishes each event as JSON on a Redis channel.
func RedisHandler(rdb *redis.Client, channel string) Handler {
	return func(ctx context.Context, e Event) error {
		if rdb == nil {
			return fmt.Errorf("redis event publisher not initialized")
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		return rdb.Publish(ctx, channel, raw).Err()
	}
}

// Forward subscribes to channel and calls onEvent for every decodable
// message until ctx is done.
func Forward(ctx context.Context, rdb *redis.Client, channel string, onEvent func(Event)) error {
	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					continue
				}
				onEvent(e)
			}
		}
	}()
	return nil
}
