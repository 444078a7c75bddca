package rebalance

import (
	"context"
	"testing"

	"index_trader/internal/core"
	"index_trader/pkg/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTracker_TrackAndCleanup(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(1000))
	ctx := context.Background()

	filled, err := ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeMarket, Quantity: d(1),
	}, nil)
	require.NoError(t, err)
	open, err := ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeLimit, Quantity: d(1), Price: d(50),
	}, nil)
	require.NoError(t, err)

	tracker := NewOrderTracker(&mockLogger{})
	tracker.Track(BucketAdd, "BTC", filled, open)
	tracker.Track(BucketAdd, "BTC")

	entry, ok := tracker.Get(BucketAdd, "BTC")
	require.True(t, ok)
	assert.Equal(t, filled.ID, entry.InitialOrderID)
	assert.Equal(t, []string{open.ID}, entry.SecondaryIDs)
	assert.Len(t, tracker.Orders(BucketAdd), 2)
	assert.Empty(t, tracker.Orders(BucketRemove))
	assert.Equal(t, int64(1), telemetry.GetGlobalMetrics().GetActiveOrders()["BTC/USDT"])

	require.NoError(t, tracker.Cleanup(ctx, ex))
	assert.Equal(t, core.OrderStatusCanceled, open.Status)
	assert.Equal(t, core.OrderStatusFilled, filled.Status)
	assert.Empty(t, tracker.Orders())
	assert.Equal(t, int64(0), telemetry.GetGlobalMetrics().GetActiveOrders()["BTC/USDT"])
}
