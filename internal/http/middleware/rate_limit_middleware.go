package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"tabletop-session-service/internal/http/response"
	"tabletop-session-service/internal/observability"
)

// RateLimiter is a local per-client token bucket. State lives in process
// memory; this service is single-process by design so no shared backend is
// involved.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	refill  float64
	scope   string
	cleanup time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		refill:  float64(limit) / window.Seconds(),
		scope:   scope,
		cleanup: time.Now().Add(window),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIPKey(r)
			allowed, retryAfter := rl.allow(key)
			if !allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Round(time.Second).Seconds())))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, b := range rl.buckets {
			if now.Sub(b.lastRefill) > 2*rl.window {
				delete(rl.buckets, k)
			}
		}
		rl.cleanup = now.Add(rl.window)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.limit), lastRefill: now}
		rl.buckets[key] = b
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(float64(rl.limit), b.tokens+elapsed*rl.refill)
	b.lastRefill = now

	if b.tokens < 1 {
		need := 1 - b.tokens
		wait := time.Duration(need / rl.refill * float64(time.Second))
		if wait <= 0 {
			wait = time.Second
		}
		return false, wait
	}
	b.tokens--
	return true, 0
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
