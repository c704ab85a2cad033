// Package ratelimit implements connect-rate limiting for WebSocket upgrades.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// RateLimiter holds the limiter instances.
type RateLimiter struct {
	wsIP *limiter.Limiter
}

// New creates a RateLimiter from a formatted rate such as "100-M".
func New(wsIPRate string) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	// The relay is a single process; the in-memory store is sufficient.
	store := memory.NewStore()

	return &RateLimiter{
		wsIP: limiter.New(store, rate),
	}, nil
}

// CheckWebSocket checks whether an upgrade attempt from this IP is allowed.
// Returns true if allowed, false if the limit was exceeded (and the 429
// response has been written).
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // Fail open
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
