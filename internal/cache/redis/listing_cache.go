package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

const (
	fieldListing  = "listing"
	fieldComments = "comments"
)

// ListingCache implements domain.ListingCache with one Redis hash per
// listing, so invalidation drops every view of it in a single DEL.
//
// Key schema:
//
//	listing:{id}  - hash with fields "listing" and "comments", JSON encoded
type ListingCache struct {
	c   *Client
	ttl time.Duration
}

// NewListingCache creates a ListingCache whose entries expire after ttl.
func NewListingCache(c *Client, ttl time.Duration) *ListingCache {
	return &ListingCache{c: c, ttl: ttl}
}

func (lc *ListingCache) key(id uint64) string {
	return lc.c.Key("listing:" + strconv.FormatUint(id, 10))
}

func (lc *ListingCache) set(ctx context.Context, id uint64, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s %d: %w", field, id, err)
	}
	key := lc.key(id)
	pipe := lc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, data)
	if lc.ttl > 0 {
		pipe.Expire(ctx, key, lc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %s %d: %w", field, id, err)
	}
	return nil
}

func (lc *ListingCache) get(ctx context.Context, id uint64, field string, v any) error {
	data, err := lc.c.rdb.HGet(ctx, lc.key(id), field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s %d: %w", field, id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redis: unmarshal %s %d: %w", field, id, err)
	}
	return nil
}

// GetListing returns the cached listing or domain.ErrNotFound.
func (lc *ListingCache) GetListing(ctx context.Context, id uint64) (domain.Listing, error) {
	var l domain.Listing
	if err := lc.get(ctx, id, fieldListing, &l); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

// SetListing caches l.
func (lc *ListingCache) SetListing(ctx context.Context, l domain.Listing) error {
	return lc.set(ctx, l.ID, fieldListing, l)
}

// GetComments returns the cached comment sequence or domain.ErrNotFound.
func (lc *ListingCache) GetComments(ctx context.Context, id uint64) ([]domain.Comment, error) {
	comments := []domain.Comment{}
	if err := lc.get(ctx, id, fieldComments, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// SetComments caches the comment sequence of a listing.
func (lc *ListingCache) SetComments(ctx context.Context, id uint64, comments []domain.Comment) error {
	if comments == nil {
		comments = []domain.Comment{}
	}
	return lc.set(ctx, id, fieldComments, comments)
}

// Invalidate drops every cached view of a listing.
func (lc *ListingCache) Invalidate(ctx context.Context, id uint64) error {
	if err := lc.c.rdb.Del(ctx, lc.key(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listing %d: %w", id, err)
	}
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
