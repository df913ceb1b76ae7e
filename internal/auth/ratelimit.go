package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Token endpoint budget: ten requests per fifteen minutes per source.
const (
	limitRequests = 10
	limitWindow   = 15 * time.Minute
)

// RateLimiter enforces the token-endpoint budget per source key
// (client IP). Idle entries are dropped after two windows.
type RateLimiter struct {
	mu      sync.Mutex
	sources map[string]*sourceLimiter
}

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates the limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{sources: make(map[string]*sourceLimiter)}
}

// Allow reports whether the source may issue another token request.
func (r *RateLimiter) Allow(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.sources[source]
	if !ok {
		entry = &sourceLimiter{
			limiter: rate.NewLimiter(rate.Every(limitWindow/limitRequests), limitRequests),
		}
		r.sources[source] = entry
	}
	entry.lastSeen = now

	r.evictIdle(now)
	return entry.limiter.Allow()
}

func (r *RateLimiter) evictIdle(now time.Time) {
	for source, entry := range r.sources {
		if now.Sub(entry.lastSeen) > 2*limitWindow {
			delete(r.sources, source)
		}
	}
}
