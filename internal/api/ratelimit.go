package api

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/filewarden/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter holds one token bucket per client IP.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

func (cl *clientLimiter) allow(ip string, now time.Time) bool {
	cl.mu.Lock()
	b, ok := cl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.buckets[ip] = b
	}
	b.lastSeen = now
	cl.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

func (cl *clientLimiter) sweep(now time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for ip, b := range cl.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(cl.buckets, ip)
		}
	}
}

// RateLimiter returns a Gin middleware that limits each client IP to rps
// requests per second with the given burst. Requests to the exempt paths
// (the probe and scrape endpoints) are never limited. Rejections are
// answered with 429 and counted per route. Idle buckets are dropped until
// ctx is done.
func RateLimiter(ctx context.Context, rps, burst int, exempt ...string) gin.HandlerFunc {
	cl := &clientLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				cl.sweep(now)
			}
		}
	}()

	return func(c *gin.Context) {
		if slices.Contains(exempt, c.Request.URL.Path) {
			c.Next()
			return
		}
		if !cl.allow(c.ClientIP(), time.Now()) {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordRateLimited(c.Request.Method, route)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
