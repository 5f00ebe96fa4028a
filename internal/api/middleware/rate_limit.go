package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	perMinute int
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows perMinute requests per IP with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{perMinute: perMinute, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *RateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
	l.limiters[ip] = lim
	return lim
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}

func exempt(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// Middleware returns 429 with Retry-After once an IP exhausts its bucket.
// Health and metrics probes are never limited.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.perMinute <= 0 || exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		limiter := l.limiter(getClientIP(r))
		reservation := limiter.Reserve()
		limit := strconv.Itoa(l.perMinute)
		if !reservation.OK() {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests")
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			retryAfter := int(delay.Seconds()) + 1
			if retryAfter > 60 {
				retryAfter = 60
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(delay).Unix(), 10))
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests")
			return
		}
		tokens := int(limiter.Tokens())
		if tokens < 0 {
			tokens = 0
		}
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))
		next.ServeHTTP(w, r)
	})
}
