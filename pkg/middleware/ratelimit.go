package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/observability"
)

// RateLimitConfig controls the per-caller token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	CleanupInterval   time.Duration
}

// DefaultRateLimitConfig returns a sensible default configuration.
func DefaultRateLimitConfig(requestsPerMinute int) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: requestsPerMinute,
		Burst:             requestsPerMinute,
		CleanupInterval:   5 * time.Minute,
	}
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter implements a per-key token bucket.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
	logger  *observability.Logger
	stopCh  chan struct{}
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig, logger *observability.Logger) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed, consuming a token
// if it may.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refillLocked(key)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Remaining returns the number of whole tokens left for key.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return int(rl.refillLocked(key).tokens)
}

func (rl *RateLimiter) refillLocked(key string) *bucket {
	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.config.Burst), lastRefill: now}
		rl.buckets[key] = b
		return b
	}

	elapsed := now.Sub(b.lastRefill)
	refill := elapsed.Minutes() * float64(rl.config.RequestsPerMinute)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > float64(rl.config.Burst) {
			b.tokens = float64(rl.config.Burst)
		}
		b.lastRefill = now
	}
	return b
}

// Cleanup drops buckets that have been idle long enough to be full again.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * time.Minute)
	for key, b := range rl.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup launches a background goroutine that periodically evicts
// idle buckets. Call Stop to terminate it.
func (rl *RateLimiter) StartCleanup() {
	go func() {
		ticker := time.NewTicker(rl.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Handler enforces the rate limit, keyed by the authenticated user when
// present and the client IP otherwise.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r)
		if !rl.Allow(key) {
			rl.logger.WithField("key", key).Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + id.UID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
