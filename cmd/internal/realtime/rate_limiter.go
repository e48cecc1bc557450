package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many realtime events a single connection may publish
// inside a sliding window. One band member spamming availability toggles gets
// throttled without touching anyone else's connection.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter. Non-positive inputs fall back to
// the package event-flood defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted, and
// records it when so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop stamps that fell out of the window, reusing the backing array.
	cut := now.Add(-r.window)
	kept := r.stamps[:0]
	for _, ts := range r.stamps {
		if ts.After(cut) {
			kept = append(kept, ts)
		}
	}
	r.stamps = kept

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
