package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/saveenergy/rtpscope/internal/config"
)

// RateLimiter enforces a global and a per-client budget, both expressed in
// requests per minute and refilled continuously.
type RateLimiter struct {
	perIP            int
	global           *bucket
	ipLimits         map[string]*bucket
	ipMu             sync.Mutex
	lastCleanup      time.Time
	cleanupInterval  time.Duration
	ipLimitTTL       time.Duration
	clientIPResolver *ClientIPResolver
	now              func() time.Time
}

type bucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	lastRefill time.Time
}

func newBucket(capacity int, now time.Time) *bucket {
	return &bucket{capacity: capacity, tokens: capacity, lastRefill: now}
}

// take refills by elapsed whole tokens and spends one if available.
func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill)
	if elapsed >= time.Second {
		add := int(elapsed.Seconds() * float64(b.capacity) / 60.0)
		if add > 0 {
			b.tokens = min(b.tokens+add, b.capacity)
			b.lastRefill = now
		}
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		perIP:            cfg.RateLimitPerIP,
		global:           newBucket(cfg.GlobalRateLimit, now),
		ipLimits:         make(map[string]*bucket),
		lastCleanup:      now,
		cleanupInterval:  5 * time.Minute,
		ipLimitTTL:       10 * time.Minute,
		clientIPResolver: NewClientIPResolver(cfg),
		now:              time.Now,
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()
	if !rl.global.take(now) {
		return false
	}
	return rl.ipBucket(ip, now).take(now)
}

func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return rl.clientIPResolver.FromRequest(r)
}

// SetCleanupPolicy overrides cleanup interval and TTL (mainly for tests).
func (rl *RateLimiter) SetCleanupPolicy(cleanupInterval, ipLimitTTL time.Duration) {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()
	rl.cleanupInterval = cleanupInterval
	rl.ipLimitTTL = ipLimitTTL
	rl.lastCleanup = rl.now()
}

func (rl *RateLimiter) ipBucket(ip string, now time.Time) *bucket {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()

	if rl.cleanupInterval > 0 && rl.ipLimitTTL > 0 && now.Sub(rl.lastCleanup) >= rl.cleanupInterval {
		for key, b := range rl.ipLimits {
			if now.Sub(b.idleSince()) >= rl.ipLimitTTL {
				delete(rl.ipLimits, key)
			}
		}
		rl.lastCleanup = now
	}
	b, ok := rl.ipLimits[ip]
	if !ok {
		b = newBucket(rl.perIP, now)
		rl.ipLimits[ip] = b
	}
	return b
}

// applyRateLimit wraps a handler with rate limit checking.
func applyRateLimit(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(limiter.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
