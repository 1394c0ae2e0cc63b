package usecase

import (
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
)

// RateLimiter enforces per-kind cooldowns on adjunct events.
// Dose actions never pass through it.
type RateLimiter struct {
	mu        sync.Mutex
	cooldowns map[domain.AdjunctKind]time.Duration
	last      map[domain.AdjunctKind]time.Time
}

// NewRateLimiter creates a limiter; kinds missing from cooldowns are unlimited
func NewRateLimiter(cooldowns map[domain.AdjunctKind]time.Duration) *RateLimiter {
	c := make(map[domain.AdjunctKind]time.Duration, len(cooldowns))
	for k, v := range cooldowns {
		c[k] = v
	}
	return &RateLimiter{
		cooldowns: c,
		last:      make(map[domain.AdjunctKind]time.Time),
	}
}

// ShouldAllow checks without registering
func (r *RateLimiter) ShouldAllow(kind domain.AdjunctKind, now time.Time) bool {
	return r.Remaining(kind, now) == 0
}

// Remaining returns how long until kind is allowed again
func (r *RateLimiter) Remaining(kind domain.AdjunctKind, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	cooldown := r.cooldowns[kind]
	last, ok := r.last[kind]
	if !ok || cooldown <= 0 {
		return 0
	}
	next := last.Add(cooldown)
	if now.Before(next) {
		return next.Sub(now)
	}
	return 0
}

// Register records an accepted event
func (r *RateLimiter) Register(kind domain.AdjunctKind, now time.Time) {
	r.mu.Lock()
	r.last[kind] = now
	r.mu.Unlock()
}

// Cooldown returns the configured cooldown for kind
func (r *RateLimiter) Cooldown(kind domain.AdjunctKind) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldowns[kind]
}
