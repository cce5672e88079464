package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticFeedSnapshot(t *testing.T) {
	cfg := DefaultSyntheticConfig([]string{"BTC-USD", "ETH-USD"})
	cfg.Seed = 7
	f := NewSyntheticFeed(cfg)

	now := time.Now().UTC()
	market, err := f.Snapshot(context.Background(), now)
	require.NoError(t, err)

	assert.Len(t, market.Snapshots, 2)
	assert.False(t, market.Paused)
	for symbol, snap := range market.Snapshots {
		assert.Equal(t, symbol, snap.Symbol)
		assert.True(t, snap.Mid.IsPositive())
		assert.True(t, snap.Bid.LessThan(snap.Ask), "spread must be positive")
		assert.Equal(t, now, snap.Timestamp)
	}
}

func TestSyntheticFeedWalksDeterministically(t *testing.T) {
	cfg := DefaultSyntheticConfig([]string{"BTC-USD"})
	cfg.Seed = 42

	a := NewSyntheticFeed(cfg)
	b := NewSyntheticFeed(cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		ma, err := a.Snapshot(ctx, now)
		require.NoError(t, err)
		mb, err := b.Snapshot(ctx, now)
		require.NoError(t, err)
		assert.True(t, ma.Snapshots["BTC-USD"].Mid.Equal(mb.Snapshots["BTC-USD"].Mid))
	}
}

func TestSyntheticFeedPricesMove(t *testing.T) {
	cfg := DefaultSyntheticConfig([]string{"BTC-USD"})
	cfg.Seed = 1
	f := NewSyntheticFeed(cfg)
	ctx := context.Background()

	first, err := f.Snapshot(ctx, time.Now().UTC())
	require.NoError(t, err)

	moved := false
	for i := 0; i < 10; i++ {
		next, err := f.Snapshot(ctx, time.Now().UTC())
		require.NoError(t, err)
		if !next.Snapshots["BTC-USD"].Mid.Equal(first.Snapshots["BTC-USD"].Mid) {
			moved = true
			break
		}
	}
	assert.True(t, moved)
}
