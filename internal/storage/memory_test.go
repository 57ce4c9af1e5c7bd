package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianlabs/tokensniper/internal/storage/models"
)

func TestSavePositionUpserts(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	entry := time.Now().UTC()
	pos := &models.Position{
		AssetID: "mint-a", Chain: "solana", Status: "open",
		EntryPrice: 1.0, Size: 1, EntryTime: &entry,
	}
	require.NoError(t, store.SavePosition(ctx, pos))

	pos.Status = "closed"
	pos.Reason = "take_profit"
	require.NoError(t, store.SavePosition(ctx, pos))

	got, err := store.GetPosition(ctx, "mint-a")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, "take_profit", got.Reason)
}

func TestGetPositionNotFound(t *testing.T) {
	store := NewMemoryStorage()
	_, err := store.GetPosition(context.Background(), "mint-missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListOpenPositionsFiltersAndOrders(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()

	require.NoError(t, store.SavePosition(ctx, &models.Position{
		AssetID: "mint-b", Status: "open", Size: 1, EntryTime: &newer,
	}))
	require.NoError(t, store.SavePosition(ctx, &models.Position{
		AssetID: "mint-a", Status: "closing", Size: 1, EntryTime: &older,
	}))
	require.NoError(t, store.SavePosition(ctx, &models.Position{
		AssetID: "mint-c", Status: "closed", Size: 1,
	}))

	open, err := store.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "mint-a", open[0].AssetID)
	assert.Equal(t, "mint-b", open[1].AssetID)
}

func TestTradesAreAppendOnlyNewestFirst(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	for _, tx := range []string{"tx-1", "tx-2", "tx-3"} {
		require.NoError(t, store.SaveTrade(ctx, &models.Trade{
			TxID: tx, AssetID: "mint-a", Side: "buy", Price: 1, Size: 1,
		}))
	}
	require.NoError(t, store.SaveTrade(ctx, &models.Trade{
		TxID: "tx-other", AssetID: "mint-b", Side: "buy", Price: 1, Size: 1,
	}))

	trades, err := store.ListTrades(ctx, "mint-a", 2, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "tx-3", trades[0].TxID)
	assert.Equal(t, "tx-2", trades[1].TxID)

	rest, err := store.ListTrades(ctx, "mint-a", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "tx-1", rest[0].TxID)
}
