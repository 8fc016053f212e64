package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

type guardEntry struct {
	token   string
	expires time.Time
}

// Guard is an in-process domain.LockManager. A key stays held until its
// unlock function runs or its TTL passes. It is safe for concurrent use.
type Guard struct {
	held map[string]guardEntry
	mu   sync.Mutex
	now  func() time.Time
}

var _ domain.LockManager = (*Guard)(nil)

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{
		held: make(map[string]guardEntry),
		now:  time.Now,
	}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld if another
// holder's lease is still live. The returned unlock only releases the
// lease it created.
func (g *Guard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if e, ok := g.held[key]; ok && now.Before(e.expires) {
		return nil, domain.ErrLockHeld
	}

	token := uuid.New().String()
	g.held[key] = guardEntry{token: token, expires: now.Add(ttl)}

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if e, ok := g.held[key]; ok && e.token == token {
			delete(g.held, key)
		}
	}, nil
}

// Cleanup removes leases whose TTL has passed. Call it periodically to
// bound memory when holders crash without unlocking.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, e := range g.held {
		if !now.Before(e.expires) {
			delete(g.held, key)
		}
	}
}

// Len returns the number of leases currently recorded.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
