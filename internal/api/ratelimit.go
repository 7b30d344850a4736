package api

import (
	"context"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"fax-hunt/internal/ratelimit"
)

// IPRateLimitConfig configures the outer per-IP flood guard.
type IPRateLimitConfig struct {
	RequestsPerSecond float64       // steady rate per IP
	Burst             int           // bucket size
	CleanupInterval   time.Duration // idle limiters older than twice this are dropped
}

// DefaultIPRateLimitConfig is loose enough that only floods hit it; the game
// budgets are enforced by the sliding-window admission gate.
var DefaultIPRateLimitConfig = IPRateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
	CleanupInterval:   5 * time.Minute,
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// IPRateLimiter is a token bucket per client IP.
type IPRateLimiter struct {
	limiters sync.Map // map[string]*ipLimiterEntry
	config   IPRateLimitConfig

	rejected atomic.Uint64
	allowed  atomic.Uint64
}

// NewIPRateLimiter creates an IP limiter. Call Run to evict idle entries.
func NewIPRateLimiter(cfg IPRateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultIPRateLimitConfig.CleanupInterval
	}
	return &IPRateLimiter{config: cfg}
}

func (rl *IPRateLimiter) getLimiter(ip string, now time.Time) *rate.Limiter {
	if v, ok := rl.limiters.Load(ip); ok {
		e := v.(*ipLimiterEntry)
		e.lastSeen.Store(now.UnixNano())
		return e.limiter
	}

	entry := &ipLimiterEntry{
		limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
	}
	entry.lastSeen.Store(now.UnixNano())

	actual, _ := rl.limiters.LoadOrStore(ip, entry)
	return actual.(*ipLimiterEntry).limiter
}

// Run evicts idle limiters until ctx is cancelled.
func (rl *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.cleanup(now)
		}
	}
}

func (rl *IPRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.config.CleanupInterval * 2).UnixNano()
	rl.limiters.Range(func(key, value any) bool {
		if value.(*ipLimiterEntry).lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Allow reports whether ip may make another request now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.getLimiter(ip, time.Now()).Allow() {
		rl.allowed.Add(1)
		return true
	}
	rl.rejected.Add(1)
	return false
}

// Middleware rejects requests from IPs over their bucket.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			writeTooManyRequests(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns allow/reject counters.
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowed.Load(),
		"rejected": rl.rejected.Load(),
	}
}

// Admission guards a handler with the sliding-window limiter. identity picks
// the key the budget is charged to; denied requests get 429 and are dropped.
func Admission(limiter *ratelimit.Limiter, endpoint string, identity func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(identity(r), endpoint)
			if !d.Allowed {
				RecordAdmissionRejected(endpoint)
				writeTooManyRequests(w, d.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// identityByIP charges the budget to the caller's address.
func identityByIP(r *http.Request) string {
	return GetClientIP(r)
}

// identityByToken charges the budget to the bearer token.
func identityByToken(r *http.Request) string {
	return tokenFromContext(r.Context())
}

func writeTooManyRequests(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeStatusJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      "Too many requests",
		"retryAfter": retryAfter,
	})
}

// GetClientIP extracts the client IP, honouring X-Forwarded-For and
// X-Real-IP. Only trustworthy behind a proxy that sets them.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter caps concurrent realtime connections per IP.
type WebSocketRateLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int

	rejected atomic.Uint64
}

// NewWebSocketRateLimiter creates a connection limiter.
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// Allow reserves a slot for ip.
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()

	if wrl.connections[ip] >= wrl.maxPerIP {
		wrl.rejected.Add(1)
		return false
	}
	wrl.connections[ip]++
	return true
}

// Release frees a slot reserved by Allow.
func (wrl *WebSocketRateLimiter) Release(ip string) {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()

	if wrl.connections[ip] <= 1 {
		delete(wrl.connections, ip)
		return
	}
	wrl.connections[ip]--
}

// GetConnectionCount returns the open connections for ip.
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return wrl.connections[ip]
}

// DefaultOrigins are accepted when no origins are configured.
var DefaultOrigins = []string{
	"http://localhost:*",
	"http://127.0.0.1:*",
}

// OriginChecker matches Origin headers against patterns in the go-chi/cors
// style, where "*" matches any run of characters.
type OriginChecker struct {
	patterns []string
}

// NewOriginChecker builds a checker; nil patterns fall back to DefaultOrigins.
func NewOriginChecker(patterns []string) *OriginChecker {
	if patterns == nil {
		patterns = DefaultOrigins
	}
	return &OriginChecker{patterns: patterns}
}

// Allowed reports whether origin may open a realtime connection. Requests
// without an Origin header come from non-browser clients and are accepted.
func (c *OriginChecker) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, p := range c.patterns {
		if p == "*" {
			return true
		}
		if ok, _ := path.Match(strings.ToLower(p), origin); ok {
			return true
		}
		if origin == strings.ToLower(p) {
			return true
		}
	}
	return false
}
