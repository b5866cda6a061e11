package restexecutor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/judgekit/go-executor/cmd/go-executor/model"
	"golang.org/x/time/rate"
)

const (
	limiterIdle     = 3 * time.Minute
	limiterSweepMin = 1024
)

// RateLimiter limits requests per client ip with token buckets
type RateLimiter struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates limiter allowing rps requests per second with burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rate:     rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request from the client could happen now
func (rl *RateLimiter) Allow(client string) bool {
	now := time.Now()

	rl.mu.Lock()
	l, ok := rl.limiters[client]
	if !ok {
		if len(rl.limiters) >= limiterSweepMin {
			rl.sweepLocked(now)
		}
		l = &clientLimiter{Limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[client] = l
	}
	l.lastSeen = now
	rl.mu.Unlock()

	return l.AllowN(now, 1)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, l := range rl.limiters {
		if now.Sub(l.lastSeen) > limiterIdle {
			delete(rl.limiters, k)
		}
	}
}

// Middleware rejects requests exceeding the rate with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
