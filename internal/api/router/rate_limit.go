package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/upload-pipeline/internal/api/handler"
)

// Counter is the part of the Redis client the limiter uses
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RateLimiterConfig configures a fixed-window limiter keyed by user id
type RateLimiterConfig struct {
	Client    Counter
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Logger    *slog.Logger
}

// NewRateLimiter counts requests per user in Redis. Requests pass through
// when Redis is unreachable or the window expiry cannot be set.
func NewRateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		id := c.GetString(handler.UserIDKey)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, err := cfg.Client.Incr(ctx, key).Result()
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("Rate limiter unavailable", slog.Any("error", err))
			}
			c.Next()
			return
		}

		// A key without a TTL would never reset, so the window is (re)applied
		// whenever it is missing, not only on the first hit.
		ttl, err := cfg.Client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			if err := cfg.Client.Expire(ctx, key, cfg.Window).Err(); err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("Rate limiter could not set window expiry",
						slog.String("key", key),
						slog.Any("error", err),
					)
				}
				c.Next()
				return
			}
			ttl = cfg.Window
		}
		reset := max(int(ttl.Seconds()), 0)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate limit exceeded",
				"rate_limit":        cfg.Limit,
				"rate_limit_window": cfg.Window.String(),
				"retry_after_sec":   reset,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}
