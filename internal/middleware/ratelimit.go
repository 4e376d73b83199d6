package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const staleAfter = 5 * time.Minute

// RateLimiter throttles requests per client IP. The login endpoints are the
// main concern: key verification is an oracle for brute-forcing raw keys,
// so the whole surface sits behind one limiter.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter builds a limiter allowing requestsPerMinute per client.
// Zero or negative disables limiting entirely.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		visitors:  make(map[string]*visitor),
	}
}

// Handler returns the gin middleware. A nil receiver is a no-op so callers
// can wire the disabled case without branching.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate_limited",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(ip string) bool {
	now := time.Now()

	r.mu.Lock()
	v, ok := r.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.visitors[ip] = v
		r.sweep(now)
	}
	v.seen = now
	r.mu.Unlock()

	return v.limiter.Allow()
}

// sweep drops visitors idle past staleAfter. Runs under r.mu, amortized
// over new-visitor inserts.
func (r *RateLimiter) sweep(now time.Time) {
	for ip, v := range r.visitors {
		if now.Sub(v.seen) > staleAfter {
			delete(r.visitors, ip)
		}
	}
}
