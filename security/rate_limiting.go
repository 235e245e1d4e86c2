package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"concert-tickets/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  int64(limit),
		window: window,
	}
}

// PurchaseRateLimit caps purchase attempts per user (per IP for anonymous
// requests) inside a rolling window.
func (r *RateLimiter) PurchaseRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identifier := e.RealIP()
		if e.Auth != nil {
			identifier = fmt.Sprintf("user:%s", e.Auth.Id)
		}

		key := fmt.Sprintf("ratelimit:purchase:%s", identifier)
		ctx := e.Request.Context()

		count, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(ctx, key, r.window)
			}
			if count > r.limit {
				return apis.NewApiError(http.StatusTooManyRequests,
					"Rate limit exceeded. Please try again later.",
					status.ErrRateLimitExceeded,
				)
			}
		}

		return e.Next()
	}
}

// AntiBotMiddleware rejects obvious scripted buyers before they reach the
// inventory.
func (r *RateLimiter) AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		userAgent := e.Request.Header.Get("User-Agent")
		if isSuspiciousUserAgent(userAgent) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
