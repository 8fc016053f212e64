package redis

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// newTestClient connects to CELOMARKET_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CELOMARKET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CELOMARKET_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestListingCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lc := NewListingCache(c, time.Minute)

	_, err := lc.GetListing(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	want := domain.Listing{ID: 1, Owner: "0xA", Name: "Stool", Price: new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil), Sold: 2}
	require.NoError(t, lc.SetListing(ctx, want))
	require.NoError(t, lc.SetComments(ctx, 1, nil))

	got, err := lc.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	comments, err := lc.GetComments(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, comments)

	require.NoError(t, lc.Invalidate(ctx, 1))
	_, err = lc.GetComments(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "intent:1:product:0xa", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "intent:1:product:0xa", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "intent:1:product:0xa", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestSignalBus(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bus := NewSignalBus(c)

	ch, err := bus.Subscribe(ctx, "ch:intent:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "ch:intent:7", []byte(`{"phase":"done"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"phase":"done"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
