package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit     int
	Offset    int
	Since     *time.Time
	Until     *time.Time
	ListingID *uint64
	Kind      IntentKind
	Actor     string
}

// ListingCache is the entity-scoped read-through cache of remote views.
// Get methods return ErrNotFound on a miss.
type ListingCache interface {
	GetListing(ctx context.Context, id uint64) (Listing, error)
	SetListing(ctx context.Context, l Listing) error
	GetComments(ctx context.Context, id uint64) ([]Comment, error)
	SetComments(ctx context.Context, id uint64, comments []Comment) error
	Invalidate(ctx context.Context, id uint64) error
}

// LockManager provides mutual exclusion for intents on the same entity.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes intent state changes to interested listeners.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// IntentJournal persists finished intents.
type IntentJournal interface {
	Record(ctx context.Context, rec IntentRecord) error
	List(ctx context.Context, opts ListOpts) ([]IntentRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]IntentRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// RateLimiter bounds how often a key may act within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
