package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/celomarket/internal/cache/memory"
	"github.com/alanyoungcy/celomarket/internal/domain"
)

func newReader(ledger *fakeLedger) *ListingReader {
	return NewListingReader(ledger, memory.NewListingCache(0), discardLogger())
}

func TestListingReader_ReadThrough(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addListing(domain.Listing{ID: 0, Owner: sellerAddr, Name: "Shea butter", Price: big.NewInt(5)})
	r := newReader(ledger)
	ctx := context.Background()

	v1, err := r.Listing(ctx, 0)
	require.NoError(t, err)
	v2, err := r.Listing(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, ledger.reads[domain.EntityListing], "second read served from cache")

	_, err = r.RefreshListing(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.reads[domain.EntityListing])
}

func TestListingReader_RefetchUnchangedIsIdentical(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addListing(domain.Listing{ID: 0, Owner: sellerAddr, Name: "Beads", Price: big.NewInt(7), Likes: 3})
	r := newReader(ledger)
	ctx := context.Background()

	a, err := r.RefreshListing(ctx, 0)
	require.NoError(t, err)
	b, err := r.RefreshListing(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestListingReader_LoadingAndNotFound(t *testing.T) {
	ledger := newFakeLedger()
	r := newReader(ledger)
	ctx := context.Background()

	v, err := r.Listing(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.ViewNotFound, v.Status)

	ledger.unavailable = true
	v, err = r.Listing(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.ViewLoading, v.Status)

	c, err := r.Comments(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.ViewLoading, c.Status)

	n, err := r.ListingCount(ctx)
	require.NoError(t, err)
	assert.False(t, n.Ready())
}

func TestListingReader_ReadErrorIsReturned(t *testing.T) {
	ledger := newFakeLedger()
	ledger.readErr = errors.New("dial tcp: connection refused")
	_, err := newReader(ledger).Listing(context.Background(), 0)
	assert.Error(t, err)
}

func TestListingReader_LikeStatusNotCached(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addListing(domain.Listing{ID: 1, Owner: sellerAddr, Price: big.NewInt(1)})
	r := newReader(ledger)
	ctx := context.Background()

	v, err := r.LikeStatus(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ViewLoading, v.Status)

	v, err = r.LikeStatus(ctx, 1, buyerAddr)
	require.NoError(t, err)
	assert.False(t, v.Value)

	ledger.liked[likedKey(1, buyerAddr)] = true
	v, err = r.LikeStatus(ctx, 1, buyerAddr)
	require.NoError(t, err)
	assert.True(t, v.Value)
	assert.Equal(t, 2, ledger.reads[domain.EntityLikeStatus])
}

func TestListingReader_Browse(t *testing.T) {
	ledger := newFakeLedger()
	for i := uint64(0); i < 12; i++ {
		ledger.addListing(domain.Listing{ID: i, Owner: sellerAddr, Name: "item", Price: big.NewInt(int64(i + 1))})
	}
	views, err := newReader(ledger).Browse(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 12)
	for i, v := range views {
		require.True(t, v.Ready())
		assert.Equal(t, uint64(i), v.Value.ID)
	}
}

func TestListingReader_InvalidateDropsAllViews(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addListing(domain.Listing{ID: 0, Owner: sellerAddr, Price: big.NewInt(1)})
	r := newReader(ledger)
	ctx := context.Background()

	_, err := r.Listing(ctx, 0)
	require.NoError(t, err)
	_, err = r.Comments(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, r.Invalidate(ctx, 0))
	_, err = r.Listing(ctx, 0)
	require.NoError(t, err)
	_, err = r.Comments(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.reads[domain.EntityListing])
	assert.Equal(t, 2, ledger.reads[domain.EntityComments])
}
