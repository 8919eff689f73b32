// Package redis opens the optional Redis connection used by the audit
// emergency channel.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"phiguard/internal/platform/config"
)

// Client is a pinged go-redis client.
type Client struct {
	*redis.Client
}

// New dials cfg.URL and pings it. An empty URL means Redis is disabled and
// yields a nil client with no error.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	applyPool(opts, cfg)

	rc := &Client{Client: redis.NewClient(opts)}
	if err := rc.Health(ctx); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}

func applyPool(opts *redis.Options, cfg config.RedisConfig) {
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}

// Health reports whether Redis answers PING. Safe on a nil client, which
// counts as healthy because Redis is optional.
func (c *Client) Health(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Ping(ctx).Err()
}
