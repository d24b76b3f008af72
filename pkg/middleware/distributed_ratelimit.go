package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/resumeforge/dispatch/pkg/observability"
)

// DistributedRateLimiter implements rate limiting using Redis so limits
// hold across every API instance.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "dispatch:ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow checks if a request is allowed using a Redis counter window. On
// Redis errors it reports allowed alongside the error so callers can fail
// open.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.TTL(ctx, redisKey).Result()
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// DistributedOwnerRateLimit limits management API requests per owner with
// Redis-shared counters.
type DistributedOwnerRateLimit struct {
	limiter  *DistributedRateLimiter
	logger   *observability.Logger
	metrics  *observability.Metrics
	failOpen bool
}

// NewDistributedOwnerRateLimit creates the Redis-backed per-owner rate
// limit middleware. It fails open on Redis errors by default.
func NewDistributedOwnerRateLimit(redisClient *redis.Client, config *RateLimitConfig, logger *observability.Logger, metrics *observability.Metrics) *DistributedOwnerRateLimit {
	return &DistributedOwnerRateLimit{
		limiter:  NewDistributedRateLimiter(redisClient, config, ""),
		logger:   logger,
		metrics:  metrics,
		failOpen: true,
	}
}

// SetFailOpen controls whether requests pass (true) or get a 503 (false)
// when Redis is unreachable.
func (m *DistributedOwnerRateLimit) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedOwnerRateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := limitKey(r)

		allowed, err := m.limiter.Allow(ctx, key)
		if err != nil {
			m.logger.WithError(err).Warn("Rate limit check failed")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		if !allowed {
			m.metrics.RateLimitDeferralsTotal.WithLabelValues("api").Inc()
			m.logger.WithFields(map[string]interface{}{
				"key":  key,
				"path": r.URL.Path,
			}).Warn("API rate limit exceeded")

			retryAfter := m.limiter.config.WindowDuration.Seconds()
			if ttl, err := m.limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl.Seconds()
			}
			writeRateLimited(w, retryAfter)
			return
		}

		if remaining, err := m.limiter.Remaining(ctx, key); err == nil {
			setRateLimitHeaders(w, m.limiter.config, remaining)
		}
		next.ServeHTTP(w, r)
	})
}
