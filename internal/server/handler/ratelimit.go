package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientLimiters tracks one token bucket per client IP. The mutation
// endpoints sit behind this; the ledger is a sandbox, not a high-throughput
// system, so a small steady rate is plenty.
type clientLimiters struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*bucketEntry
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	b, ok := cl.buckets[ip]
	if !ok {
		b = &bucketEntry{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (cl *clientLimiters) sweep(maxAge time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for ip, b := range cl.buckets {
		if time.Since(b.lastSeen) > maxAge {
			delete(cl.buckets, ip)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing per-IP token-bucket rate
// limiting. Idle buckets are swept in the background.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	cl := &clientLimiters{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucketEntry),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cl.sweep(10 * time.Minute)
		}
	}()

	return func(c *gin.Context) {
		if !cl.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
