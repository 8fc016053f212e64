package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBus_PatternDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus()

	all, err := bus.Subscribe(ctx, "ch:intent:*")
	require.NoError(t, err)
	one, err := bus.Subscribe(ctx, "ch:intent:7")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch:intent:3", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "ch:intent:7", []byte("b")))

	assert.Equal(t, []byte("a"), <-all)
	assert.Equal(t, []byte("b"), <-all)
	assert.Equal(t, []byte("b"), <-one)
	select {
	case msg := <-one:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}

func TestSignalBus_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()
	ch, err := bus.Subscribe(ctx, "ch:intent:*")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	require.NoError(t, bus.Publish(context.Background(), "ch:intent:1", []byte("x")))
}

func TestSignalBus_BadPattern(t *testing.T) {
	_, err := NewSignalBus().Subscribe(context.Background(), "ch:[")
	assert.Error(t, err)
}
