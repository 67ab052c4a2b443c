// Package redis opens the go-redis client backing the idempotency and throttle
// guards when CHECKPOINT_GUARD_BACKEND=redis.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"checkpoint/internal/platform/config"
)

// Open parses REDIS_URL, applies pool settings and waits until the server
// answers PING. It retries like postgres.NewPool so compose stacks can start
// in any order.
func Open(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*goredis.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis guard backend selected but REDIS_URL is empty")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := goredis.NewClient(opts)
	attempts := max(cfg.ConnectAttempts, 1)
	for attempt := 1; ; attempt++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		if attempt == attempts {
			break
		}
		if logger != nil {
			logger.WarnContext(ctx, "redis not ready, retrying",
				"attempt", attempt,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("redis ping after %d attempts: %w", attempts, err)
}

// HealthCheck adapts a client to the router's health check signature.
func HealthCheck(client goredis.Cmdable) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
