package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to its rate-limit bucket.
type KeyFunc func(*gin.Context) string

// KeyByActorOrIP buckets staff and accounts by id and everyone else by
// client address.
func KeyByActorOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id := StaffID(c); id != "" {
			return "staff:" + id
		}
		if id := AccountID(c); id != "" {
			return "account:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. Idle buckets are
// dropped after ttl during periodic sweeps of the map.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	lookups uint64
	sweepN  uint64
	now     func() time.Time
}

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst (at least 1) per key.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByActorOrIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
		sweepN:  5000,
		now:     time.Now,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// sweep before touching key so a stale bucket for key is replaced too
	rl.lookups++
	if rl.lookups >= rl.sweepN {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// isRateBypass reports whether Idempotency marked this request as a replay.
func isRateBypass(c *gin.Context) bool { return c.GetBool(ctxKeyRateBypass) }

// Handler enforces the limit, answering 429 with Retry-After when a bucket
// is empty. Idempotent replays are not charged.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isRateBypass(c) || rl.limiterFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
