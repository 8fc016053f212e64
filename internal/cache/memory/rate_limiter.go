package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// RateLimiter is a process-local sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{events: make(map[string][]time.Time), now: time.Now}
}

// Allow counts one request for key if it fits within limit per window.
// Rejected requests are not counted.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	floor := now.Add(-window)
	kept := rl.events[key][:0]
	for _, t := range rl.events[key] {
		if t.After(floor) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.events[key] = kept
		return false, nil
	}
	rl.events[key] = append(kept, now)
	return true, nil
}
