package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// Limiter decides whether a request identified by key may proceed. When it
// refuses, retryAfter is the suggested wait in seconds.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter int, err error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) take(now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, 1
	}
	return false, int(math.Ceil((1 - b.tokens) / b.refillRate))
}

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// idle for longer than a full refill are dropped by Sweep.
type MemoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &MemoryLimiter{cfg: cfg, buckets: make(map[string]*tokenBucket), now: time.Now}
}

func (l *MemoryLimiter) bucket(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize)
		b.lastRefill = l.now()
		l.buckets[key] = b
	}
	return b
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	ok, retry := l.bucket(key).take(l.now())
	return ok, retry, nil
}

// Sweep removes buckets that have been idle long enough to be full again.
func (l *MemoryLimiter) Sweep() int {
	idle := time.Duration(float64(l.cfg.BurstSize)/l.cfg.RequestsPerSecond*float64(time.Second)) + time.Second
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests over the limiter's budget with 429. Requests are
// keyed by client IP. Limiter errors fail open and are logged.
func RateLimit(limiter Limiter, limit float64, logger zerolog.Logger) echo.MiddlewareFunc {
	limitHeader := strconv.FormatFloat(limit, 'f', 0, 64)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, retryAfter, err := limiter.Allow(c.Request().Context(), "ip:"+c.RealIP())
			if err != nil {
				logger.Warn().Err(err).Str("request_id", RequestIDFrom(c)).Msg("rate limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
