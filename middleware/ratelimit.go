package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP with a token bucket. It guards
// the check-in routes against request floods; the per-day check-in caps are
// enforced separately by the check-in store.
type RateLimiter struct {
	limit    RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	idleTTL  time.Duration
	clockNow func() time.Time
}

func NewRateLimiter(limit RateLimit) *RateLimiter {
	if limit.RequestsPerMinute <= 0 {
		limit.RequestsPerMinute = 60
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &RateLimiter{
		limit:    limit,
		visitors: make(map[string]*rateEntry),
		idleTTL:  5 * time.Minute,
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(id string) bool {
	now := r.clockNow()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.visitors[id]
	if !ok {
		r.evictIdle(now)
		entry = &rateEntry{
			limiter: rate.NewLimiter(rate.Limit(r.limit.RequestsPerMinute/60.0), r.limit.Burst),
		}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (r *RateLimiter) evictIdle(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
}
