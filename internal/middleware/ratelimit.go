package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the distributed rate limiter
type RateLimitConfig struct {
	// Default limit (requests per window) applied per client IP
	Requests int
	// Window duration
	Window time.Duration
	// Authentication endpoints get a stricter limit; credential guessing
	// is the traffic this service attracts
	AuthRequests int
	// Window for the auth tier
	AuthWindow time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests:     300,
		Window:       time.Minute,
		AuthRequests: 30,
		AuthWindow:   time.Minute,
	}
}

// authPaths get the stricter limit tier
var authPaths = []string{
	"/v1/authn/start",
	"/v1/authn/verify",
}

// skipPaths are exempt from rate limiting
var skipPaths = []string{
	"/healthz",
	"/metrics",
	"/ready",
}

var (
	rlHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting",
		},
		[]string{"tier"},
	)

	rlFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "rate_limit_fail_open_total",
			Help:      "Total number of requests allowed because Redis was unavailable",
		},
	)
)

// RateLimit implements Redis-backed distributed rate limiting with a fixed
// window counter keyed per client IP. If Redis is unavailable it fails open:
// locking legitimate users out of authentication is worse than briefly
// losing the limiter.
func RateLimit(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		for _, sp := range skipPaths {
			if path == sp {
				c.Next()
				return
			}
		}

		limit := cfg.Requests
		window := cfg.Window
		tier := "default"
		if isAuthPath(path) && cfg.AuthRequests > 0 {
			limit = cfg.AuthRequests
			window = cfg.AuthWindow
			tier = "auth"
		}

		if redisClient == nil {
			rlFailOpenTotal.Inc()
			c.Next()
			return
		}

		windowEpoch := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%s:%d", tier, c.ClientIP(), windowEpoch)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			rlFailOpenTotal.Inc()
			logger.Warn("Rate limit Redis error, failing open",
				zap.Error(err),
				zap.String("key", key))
			c.Next()
			return
		}

		if count == 1 {
			redisClient.Expire(ctx, key, window+time.Second)
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > int64(limit) {
			retryAfter := int64(window.Seconds()) - (time.Now().Unix() % int64(window.Seconds()))
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			rlHitsTotal.WithLabelValues(tier).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

func isAuthPath(path string) bool {
	for _, ap := range authPaths {
		if strings.HasPrefix(path, ap) {
			return true
		}
	}
	return false
}
