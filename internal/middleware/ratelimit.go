package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ukydev/urban-services/internal/config"
	"golang.org/x/time/rate"
)

const defaultLimiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// RateLimiter applies a token bucket per client IP. Buckets of clients idle
// for longer than the configured window are dropped by Prune.
type RateLimiter struct {
	limiters sync.Map
	rps      float64
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter. A non-positive RPS disables limiting.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	idle := cfg.Idle
	if idle <= 0 {
		idle = defaultLimiterIdle
	}
	return &RateLimiter{rps: cfg.RPS, burst: burst, idle: idle, now: time.Now}
}

// RateLimit rejects requests over the client's budget with 429.
func (l *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.rps > 0 && !l.limiter(getClientIP(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	now := l.now().UnixNano()
	if v, ok := l.limiters.Load(key); ok {
		entry := v.(*clientLimiter)
		entry.lastSeen.Store(now)
		return entry.limiter
	}
	fresh := &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
	fresh.lastSeen.Store(now)
	actual, _ := l.limiters.LoadOrStore(key, fresh)
	entry := actual.(*clientLimiter)
	entry.lastSeen.Store(now)
	return entry.limiter
}

// Prune drops the buckets of clients not seen within the idle window and
// returns how many were removed.
func (l *RateLimiter) Prune() int {
	cutoff := l.now().Add(-l.idle).UnixNano()
	removed := 0
	l.limiters.Range(func(key, v any) bool {
		entry := v.(*clientLimiter)
		if entry.lastSeen.Load() < cutoff && l.limiters.CompareAndDelete(key, entry) {
			removed++
		}
		return true
	})
	return removed
}

// Clients is the number of buckets currently held.
func (l *RateLimiter) Clients() int {
	n := 0
	l.limiters.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Start prunes idle buckets every idle window until ctx is done.
func (l *RateLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
