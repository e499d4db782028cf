package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	lastGC  time.Time
	now     func() time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = int(rps) * 2
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{entries: make(map[string]*limiterEntry), rps: rate.Limit(rps), burst: burst, now: time.Now}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastGC) > limiterIdleTTL {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(r.entries, k)
			}
		}
		r.lastGC = now
	}
	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(r.rps, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// RateLimit ограничивает запросы к /api/* по клиенту (X-Device-Id из APIToken, иначе IP). 429 при превышении.
// rps <= 0 отключает ограничение.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetClientID(r.Context())
			if key == "" {
				key = clientIP(r)
			}
			if !rl.allow(key) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
