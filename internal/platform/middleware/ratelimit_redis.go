package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared by every server instance
// through Redis. Each key may make Limit requests per Window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "medirec:ratelimit"
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// NewRedisLimiterFromURL parses a redis:// URL and checks connectivity.
func NewRedisLimiterFromURL(ctx context.Context, url string, cfg RateLimitConfig) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	// A one-second window admits the burst plus one second of refill.
	limit := cfg.BurstSize
	if limit <= 0 {
		limit = int(cfg.RequestsPerSecond)
	}
	return NewRedisLimiter(client, "", limit, time.Second), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	windowStart := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowStart)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis rate limit: %w", err)
	}

	if incr.Val() <= l.limit {
		return true, 0, nil
	}
	retry := int(l.window / time.Second)
	if retry < 1 {
		retry = 1
	}
	return false, retry, nil
}
