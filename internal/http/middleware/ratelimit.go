// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with per-caller
// buckets and opportunistic garbage collection. Requesters and volunteers get
// separate buckets, so a burst of proposal submissions from one volunteer
// cannot starve everyone behind the same NAT.
//
// Features:
//   - Per-key token buckets using golang.org/x/time/rate
//   - Pluggable identity function (user ID or client IP)
//   - Best-effort cleanup of idle buckets to bound memory
//   - Bypass for idempotent replays (paired with IdempotencyValidator) so a
//     retried proposal submission is served without spending tokens
//
// The limiter is process-local; a horizontally scaled deployment needs a
// distributed limiter to enforce global limits. It is abuse control, not an
// authorization mechanism.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
//
// Implementations should return a stable string for the duration of a request
// (e.g., "user:<id>" or "ip:<addr>").
type keyFunc func(*gin.Context) string

// KeyByUserOrIP returns a keyFunc that prefers the caller identity (from the
// Gin context under "userID", set by the identity middleware) and falls back
// to the client IP address.
//
// Keys are prefixed to keep the user and IP namespaces apart
// (e.g., "user:abc123" vs "ip:203.0.113.7").
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket holds a single limiter and the last time its key was seen,
// so idle entries can be evicted.
type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter implements a per-key token-bucket rate limiter.
//
// Buckets are created on demand in a mutex-guarded map. Idle buckets are
// evicted after a TTL via opportunistic cleanup during lookups, which keeps
// memory bounded without a background goroutine.
//
// Safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	ttl     time.Duration
	lookups uint64
}

// NewRateLimiter constructs a RateLimiter with the given tokens-per-second
// and burst size, keyed by keyFn.
//
//   - rps:   tokens replenished per second (0 allows no requests; use >0).
//   - burst: maximum burst size; values <= 0 are coerced to 1.
//   - keyFn: maps a request to a bucket identity.
//
// Install the result as middleware via Handler().
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute, // evict idle entries after TTL
	}
}

// bucketFor returns (and refreshes) the limiter for key, creating it if
// absent. Every ~5000 lookups it sweeps idle entries.
//
// IMPORTANT: sweep *before* touching the requested bucket so an "old" entry
// can be evicted even when it is the one being fetched.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	rl.lookups++
	if rl.lookups >= 5000 {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.seen = now
		lim := b.limiter
		rl.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, seen: now}
	rl.mu.Unlock()
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of a previously completed submission.
//
// When true, Handler() skips limiting so replays never spend tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass) // set by IdempotencyValidator
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns a Gin middleware that enforces per-key token-bucket limits.
//
// Replays flagged by IsRateBypass pass through untouched. Everything else is
// checked against its bucket; a dry bucket yields 429 with a compact JSON
// body and a minimal Retry-After header:
//
//	HTTP/1.1 429 Too Many Requests
//	{
//	  "request_id": "<uuid>",
//	  "code":       "rate_limited",
//	  "message":    "rate limit exceeded"
//	}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.bucketFor(rl.keyFn(c))

		if lim.Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
