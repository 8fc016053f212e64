package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// browseConcurrency bounds parallel listing reads during Browse.
const browseConcurrency = 8

// ListingReader reads listing state from the ledger through an
// entity-scoped read-through cache. A value the ledger cannot serve yet is
// returned as a loading view, never as an error.
type ListingReader struct {
	ledger domain.Ledger
	cache  domain.ListingCache
	logger *slog.Logger
}

// NewListingReader creates a ListingReader.
func NewListingReader(ledger domain.Ledger, cache domain.ListingCache, logger *slog.Logger) *ListingReader {
	return &ListingReader{
		ledger: ledger,
		cache:  cache,
		logger: logger.With(slog.String("component", "listing_reader")),
	}
}

// Listing returns the cached listing view, reading the ledger on a miss.
func (r *ListingReader) Listing(ctx context.Context, id uint64) (domain.EntityView[domain.Listing], error) {
	if l, err := r.cache.GetListing(ctx, id); err == nil {
		return domain.ReadyView(l), nil
	}
	return r.RefreshListing(ctx, id)
}

// RefreshListing re-reads the listing from the ledger and repopulates the
// cache.
func (r *ListingReader) RefreshListing(ctx context.Context, id uint64) (domain.EntityView[domain.Listing], error) {
	raw, err := r.ledger.ReadEntity(ctx, domain.EntityListing, id, "")
	if errors.Is(err, domain.ErrReadUnavailable) {
		return domain.LoadingView[domain.Listing](), nil
	}
	if err != nil {
		return domain.EntityView[domain.Listing]{}, fmt.Errorf("listing_reader: read listing %d: %w", id, err)
	}
	l, err := domain.DecodeListing(id, raw)
	if err != nil {
		return domain.EntityView[domain.Listing]{}, fmt.Errorf("listing_reader: %w", err)
	}
	if domain.IsZeroOwner(l.Owner) {
		return domain.NotFoundView[domain.Listing](), nil
	}

	if err := r.cache.SetListing(ctx, l); err != nil {
		r.logger.WarnContext(ctx, "listing_reader: cache set failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
	return domain.ReadyView(l), nil
}

// LikeStatus reads whether actor has liked the listing. It is never cached.
// Without an actor the status is unknown and reported as loading.
func (r *ListingReader) LikeStatus(ctx context.Context, id uint64, actor string) (domain.EntityView[bool], error) {
	if actor == "" {
		return domain.LoadingView[bool](), nil
	}
	raw, err := r.ledger.ReadEntity(ctx, domain.EntityLikeStatus, id, actor)
	if errors.Is(err, domain.ErrReadUnavailable) {
		return domain.LoadingView[bool](), nil
	}
	if err != nil {
		return domain.EntityView[bool]{}, fmt.Errorf("listing_reader: read like status %d: %w", id, err)
	}
	liked, err := domain.DecodeBool(raw)
	if err != nil {
		return domain.EntityView[bool]{}, fmt.Errorf("listing_reader: %w", err)
	}
	return domain.ReadyView(liked), nil
}

// Comments returns the cached comment sequence, reading the ledger on a
// miss.
func (r *ListingReader) Comments(ctx context.Context, id uint64) (domain.EntityView[[]domain.Comment], error) {
	if c, err := r.cache.GetComments(ctx, id); err == nil {
		return domain.ReadyView(c), nil
	}
	return r.RefreshComments(ctx, id)
}

// RefreshComments re-reads the comment sequence from the ledger. The
// sequence is kept in ledger order.
func (r *ListingReader) RefreshComments(ctx context.Context, id uint64) (domain.EntityView[[]domain.Comment], error) {
	raw, err := r.ledger.ReadEntity(ctx, domain.EntityComments, id, "")
	if errors.Is(err, domain.ErrReadUnavailable) {
		return domain.LoadingView[[]domain.Comment](), nil
	}
	if err != nil {
		return domain.EntityView[[]domain.Comment]{}, fmt.Errorf("listing_reader: read comments %d: %w", id, err)
	}
	comments, err := domain.DecodeComments(raw)
	if err != nil {
		return domain.EntityView[[]domain.Comment]{}, fmt.Errorf("listing_reader: %w", err)
	}

	if err := r.cache.SetComments(ctx, id, comments); err != nil {
		r.logger.WarnContext(ctx, "listing_reader: cache set comments failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
	return domain.ReadyView(comments), nil
}

// ListingCount returns the number of listings ever created.
func (r *ListingReader) ListingCount(ctx context.Context) (domain.EntityView[uint64], error) {
	raw, err := r.ledger.ReadEntity(ctx, domain.EntityListingCount, 0, "")
	if errors.Is(err, domain.ErrReadUnavailable) {
		return domain.LoadingView[uint64](), nil
	}
	if err != nil {
		return domain.EntityView[uint64]{}, fmt.Errorf("listing_reader: read listing count: %w", err)
	}
	n, err := domain.DecodeUint(raw)
	if err != nil {
		return domain.EntityView[uint64]{}, fmt.Errorf("listing_reader: %w", err)
	}
	if !n.IsUint64() {
		return domain.EntityView[uint64]{}, fmt.Errorf("listing_reader: listing count %s out of range", n)
	}
	return domain.ReadyView(n.Uint64()), nil
}

// Browse returns a view for every listing id in [0, count), in id order.
// It returns nil while the count itself is still loading.
func (r *ListingReader) Browse(ctx context.Context) ([]domain.EntityView[domain.Listing], error) {
	count, err := r.ListingCount(ctx)
	if err != nil {
		return nil, err
	}
	if !count.Ready() {
		return nil, nil
	}

	views := make([]domain.EntityView[domain.Listing], count.Value)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(browseConcurrency)
	for i := range views {
		g.Go(func() error {
			v, err := r.Listing(gctx, uint64(i))
			if err != nil {
				return err
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// Invalidate drops every cached view of the listing.
func (r *ListingReader) Invalidate(ctx context.Context, id uint64) error {
	if err := r.cache.Invalidate(ctx, id); err != nil {
		return fmt.Errorf("listing_reader: invalidate %d: %w", id, err)
	}
	return nil
}
