// Package policy evaluates the policy stack for one invocation: channel and
// actor allow/deny lists, capability scoping, autonomy ceilings, review
// gating, sliding-window rate limits and approval-token consumption.
package policy

import (
	"sync"
	"time"
)

// RateLimiter enforces per-key sliding-window limits. Keys are entry idents
// ("name@version"); each key holds the timestamps of allowed requests within
// the window, pruned on every check. Safe for concurrent use; timestamps
// never leak across keys.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter builds a limiter over a 60-second sliding window.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		window: time.Minute,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records the request and reports whether key stays within max
// requests per window. Denied requests are not recorded.
func (l *RateLimiter) Allow(key string, max int) bool {
	if max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.hits[key]
	i := 0
	for i < len(recent) && recent[i].Before(cutoff) {
		i++
	}
	recent = recent[i:]
	if len(recent) >= max {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}
