package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/payment"
)

const rateKeyPrefix = "ratelimit:"

// RateLimiter counts requests per wallet in fixed Redis windows.
type RateLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	scope  string
	log    logrus.FieldLogger
}

func NewRateLimiter(rdb redis.UniversalClient, scope string, limit int, window time.Duration, log logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{rdb: rdb, scope: scope, limit: limit, window: window, log: log}
}

// Allow increments the counter for key and reports whether the request fits the window.
// When it does not, the returned duration is how long until the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := rateKeyPrefix + rl.scope + ":" + key

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", k, err)
	}

	wait := ttl.Val()
	if wait < 0 {
		// first hit in this window, or a key left without expiry
		if err := rl.rdb.Expire(ctx, k, rl.window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit %s: %w", k, err)
		}
		wait = rl.window
	}

	if incr.Val() <= int64(rl.limit) {
		return true, 0, nil
	}
	if wait <= 0 {
		wait = rl.window
	}
	return false, wait, nil
}

// Middleware rejects callers over the limit with 429. Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		key := ClientKey(c)
		ok, wait, err := rl.Allow(c.Request.Context(), key)
		if err != nil {
			rl.log.WithError(err).Warn("Rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			rl.log.WithFields(logrus.Fields{"key": key, "scope": rl.scope, "request_id": GetRequestID(c)}).Info("Rate limit exceeded")
			abortJSON(c, http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// ClientKey identifies the paying wallet from the X-PAYMENT header, falling back to the client IP.
// Only a structurally valid authorization is keyed by wallet, so a malformed header naming
// someone else's address is counted against the caller's IP.
func ClientKey(c *gin.Context) string {
	if header := c.GetHeader(payment.HeaderName); header != "" {
		if p, err := payment.DecodeHeader(header); err == nil && payment.ValidatePayload(p.Payload) == nil {
			return "wallet:" + strings.ToLower(p.Payload.Authorization.From)
		}
	}
	return "ip:" + c.ClientIP()
}
