// internal/api/middleware.go
package api

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware tags every request with an id, reusing the caller's.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger records request metrics and logs failed requests.
func RequestLogger(metrics *utils.APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordAPIRequest(route, c.Request.Method, status, elapsed)

		if status >= http.StatusInternalServerError {
			utils.GetLogger().Warn("request finished with server error", map[string]interface{}{
				"route":       route,
				"method":      c.Request.Method,
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
				"request_id":  c.GetString(requestIDKey),
			})
		}
	}
}

// RateLimiter keeps one token bucket per client key. Idle clients fall out
// of the LRU after the TTL.
type RateLimiter struct {
	interval time.Duration
	burst    int
	clients  *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter allows perWindow requests per window for each client.
func NewRateLimiter(perWindow int, window time.Duration) *RateLimiter {
	if perWindow <= 0 {
		perWindow = 1
	}
	return &RateLimiter{
		interval: window / time.Duration(perWindow),
		burst:    perWindow,
		clients:  expirable.NewLRU[string, *rate.Limiter](10000, nil, 2*window),
	}
}

// Allow consumes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	limiter, ok := rl.clients.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rl.interval), rl.burst)
		rl.clients.Add(key, limiter)
	}
	return limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	rh := NewResponseHelper()
	return func(c *gin.Context) {
		if !rl.Allow(keyFunc(c)) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(rl.interval.Seconds()))))
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimited, "Too many requests, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClientKey identifies the caller by user id when signed in, else by IP.
func ClientKey(c *gin.Context) string {
	if identity := IdentityFromContext(c); !identity.IsGuest() {
		return "user:" + identity.UserID
	}
	return "ip:" + c.ClientIP()
}
