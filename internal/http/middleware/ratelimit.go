package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter caps requests per minute per client IP. A zero or negative
// rpm disables limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), rpm: rpm}
}

// Handler returns the gin middleware.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rpm <= 0 {
			c.Next()
			return
		}
		if !rl.limiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "error_description": "Too many requests."})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.rpm)
		rl.limiters[key] = l
	}
	return l
}
