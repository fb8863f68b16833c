// Package middleware provides HTTP middleware for TrustSignal services
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for the sliding-window rate limiter.
// Scoring requests are unauthenticated at this layer, so limiting is keyed
// on the caller IP only.
type RateLimitConfig struct {
	// RequestsPerWindow is the request budget per source IP per window.
	RequestsPerWindow int
	// Window is the sliding window duration.
	Window time.Duration
	// SkipPaths are exempt from limiting.
	SkipPaths []string
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 100,
		Window:            time.Minute,
		SkipPaths:         []string{"/health", "/ready", "/metrics"},
	}
}

// SlidingWindowRateLimit returns a Redis-backed sliding-window rate limiter.
// Each IP gets a sorted set of request timestamps; entries older than the
// window are pruned on every request. When Redis is unreachable the limiter
// fails open: a scoring outage is worse than a burst of extra requests.
func SlidingWindowRateLimit(redisClient *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = DefaultRateLimitConfig().RequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitConfig().Window
	}
	if cfg.SkipPaths == nil {
		cfg.SkipPaths = DefaultRateLimitConfig().SkipPaths
	}

	return func(c *gin.Context) {
		for _, skip := range cfg.SkipPaths {
			if c.Request.URL.Path == skip {
				c.Next()
				return
			}
		}
		if redisClient == nil {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		now := time.Now()
		key := "ratelimit:ip:" + c.ClientIP()
		cutoff := now.Add(-cfg.Window)

		pipe := redisClient.TxPipeline()
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: fmt.Sprintf("%d", now.UnixNano()),
		})
		count := pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, cfg.Window+time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			c.Next()
			return
		}

		used := int(count.Val())
		remaining := cfg.RequestsPerWindow - used
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(maxInt(remaining, 0)))

		if used > cfg.RequestsPerWindow {
			retryAfter := int(cfg.Window.Seconds())
			if oldest, err := redisClient.ZRangeWithScores(ctx, key, 0, 0).Result(); err == nil && len(oldest) > 0 {
				expiry := time.Unix(0, int64(oldest[0].Score)).Add(cfg.Window)
				if secs := int(time.Until(expiry).Seconds()) + 1; secs > 0 {
					retryAfter = secs
				}
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit":       cfg.RequestsPerWindow,
				"window":      cfg.Window.String(),
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
