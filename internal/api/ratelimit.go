package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor pairs a per-key token bucket with the last time it was touched, so
// idle keys can be evicted instead of accumulating forever.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter: each key (by default the
// client IP) gets its own golang.org/x/time/rate.Limiter, refilling at rps
// and capped at burst. Unlike a sliding window it never needs to retain a
// history of timestamps — the bucket is the whole state.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	keyFunc  func(r *http.Request) string
	cleanupT *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// RateLimiterConfig defines rate limit parameters: RPS sustained requests
// per second, Burst the bucket size, and IdleTTL how long an unused key's
// bucket is kept before eviction (defaults to 10 minutes when zero).
type RateLimiterConfig struct {
	RPS     float64
	Burst   int
	IdleTTL time.Duration
	KeyFunc func(r *http.Request) string
}

// NewRateLimiter creates a new per-key rate limiter and starts its idle
// visitor sweep.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = GetClientIP
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		idleTTL:  idleTTL,
		keyFunc:  cfg.KeyFunc,
		cleanupT: time.NewTicker(idleTTL),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup periodically evicts buckets idle for longer than idleTTL, bounding
// the map's size under a churn of distinct client IPs.
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case now := <-rl.cleanupT.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if now.Sub(v.lastSeen) > rl.idleTTL {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			rl.cleanupT.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

// getLimiter returns the token bucket for key, creating it on first use.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Allow reports whether the request's key has a token available, consuming
// one if so.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	return rl.getLimiter(rl.keyFunc(r)).Allow()
}

// Middleware returns HTTP middleware enforcing the limiter.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP from a request.
// chi middleware.RealIP already sets r.RemoteAddr from X-Real-IP / X-Forwarded-For,
// so we only need to strip the port. Do NOT re-read those headers here — an attacker
// can spoof X-Forwarded-For to bypass per-IP rate limits.
// Uses net.SplitHostPort to correctly handle both IPv4 and IPv6 addresses.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not have a port (e.g. unix socket)
		return r.RemoteAddr
	}
	return host
}

// RateLimiters holds all rate limiters for the application.
type RateLimiters struct {
	Global  *RateLimiter
	Command *RateLimiter
}

// NewRateLimiters creates the standard rate limiters.
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{
		// Global: sustained 100 req/min per IP, bursts up to 20 at once.
		Global: NewRateLimiter(RateLimiterConfig{
			RPS:     100.0 / 60.0,
			Burst:   20,
			KeyFunc: GetClientIP,
		}),
		// Command: sustained 2 req/min per IP, no burst beyond the bucket's
		// own size — guards collect-now and monitor-start, the two
		// handlers that trigger upstream GitHub traffic on demand.
		Command: NewRateLimiter(RateLimiterConfig{
			RPS:     2.0 / 60.0,
			Burst:   2,
			KeyFunc: GetClientIP,
		}),
	}
}

// Stop stops all rate limiter cleanup goroutines.
func (rls *RateLimiters) Stop() {
	rls.Global.Stop()
	rls.Command.Stop()
}

// CommandSemaphore limits concurrent on-demand upstream operations to
// prevent DB and GitHub quota exhaustion. Max 3 concurrent system-wide.
var CommandSemaphore = make(chan struct{}, 3)

// CommandGuardMiddleware applies both the strict command rate limit and
// the concurrency semaphore. Returns 429 if rate limited, 503 if all
// command slots are in use.
func CommandGuardMiddleware(commandRL *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !commandRL.Allow(r) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "command rate limit exceeded (max 2/min)", http.StatusTooManyRequests)
				return
			}

			select {
			case CommandSemaphore <- struct{}{}:
				defer func() { <-CommandSemaphore }()
			default:
				http.Error(w, "command capacity full, try again shortly", http.StatusServiceUnavailable)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
