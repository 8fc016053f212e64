// Package memory provides process-local implementations of the domain cache
// and signal bus ports, used when Redis is disabled.
package memory

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

type entry struct {
	listing     *domain.Listing
	comments    []domain.Comment
	hasComments bool
	expires     time.Time
}

// ListingCache keeps one entry per listing holding every cached view of
// it, so Invalidate drops them together. It is safe for concurrent use.
type ListingCache struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
	ttl     time.Duration
	now     func() time.Time
}

var _ domain.ListingCache = (*ListingCache)(nil)

// NewListingCache creates a cache whose entries expire after ttl. A zero
// ttl keeps entries until they are invalidated.
func NewListingCache(ttl time.Duration) *ListingCache {
	return &ListingCache{
		entries: make(map[uint64]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *ListingCache) live(id uint64) (*entry, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && !c.now().Before(e.expires) {
		return nil, false
	}
	return e, true
}

func (c *ListingCache) touch(id uint64) *entry {
	e, ok := c.live(id)
	if !ok {
		e = &entry{}
		c.entries[id] = e
	}
	e.expires = c.now().Add(c.ttl)
	return e
}

// GetListing returns a copy of the cached listing or domain.ErrNotFound.
func (c *ListingCache) GetListing(_ context.Context, id uint64) (domain.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(id)
	if !ok || e.listing == nil {
		return domain.Listing{}, domain.ErrNotFound
	}
	return cloneListing(*e.listing), nil
}

// SetListing stores a copy of l.
func (c *ListingCache) SetListing(_ context.Context, l domain.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := cloneListing(l)
	c.touch(l.ID).listing = &cp
	return nil
}

// GetComments returns a copy of the cached comments or domain.ErrNotFound.
func (c *ListingCache) GetComments(_ context.Context, id uint64) ([]domain.Comment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(id)
	if !ok || !e.hasComments {
		return nil, domain.ErrNotFound
	}
	return append([]domain.Comment(nil), e.comments...), nil
}

// SetComments stores a copy of comments.
func (c *ListingCache) SetComments(_ context.Context, id uint64, comments []domain.Comment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.touch(id)
	e.comments = append([]domain.Comment(nil), comments...)
	e.hasComments = true
	return nil
}

// Invalidate drops every cached view of the listing.
func (c *ListingCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func cloneListing(l domain.Listing) domain.Listing {
	if l.Price != nil {
		l.Price = new(big.Int).Set(l.Price)
	}
	return l
}
