package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"phiguard/internal/audit"
)

// DefaultRedisKey is the list undelivered entries are pushed onto.
const DefaultRedisKey = "phiguard:audit:emergency"

// RedisChannel appends undelivered entries to a Redis list.
type RedisChannel struct {
	client redis.Cmdable
	key    string
	clock  func() time.Time
}

func NewRedisChannel(client redis.Cmdable, key string) *RedisChannel {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisChannel{client: client, key: key, clock: time.Now}
}

func (c *RedisChannel) Notify(ctx context.Context, entry audit.Entry, cause error) error {
	payload, err := encode(entry, cause, c.clock())
	if err != nil {
		return fmt.Errorf("encode emergency record: %w", err)
	}
	if err := c.client.RPush(ctx, c.key, payload).Err(); err != nil {
		return fmt.Errorf("push emergency record: %w", err)
	}
	return nil
}

// drain pops up to n records, oldest first.
func (c *RedisChannel) drain(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := c.client.LPopCount(ctx, c.key, int(n)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drain emergency records: %w", err)
	}
	return vals, nil
}
