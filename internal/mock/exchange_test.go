package mock

import (
	"context"
	"testing"
	"time"

	"index_trader/internal/core"
	"index_trader/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func spotExchange() *MockExchange {
	opts := DefaultOptions("paper")
	opts.TakerFee = decimal.Zero
	opts.MakerFee = decimal.Zero
	ex := NewMockExchange(opts)
	ex.SetBalance("USDT", d(1000))
	ex.SetPrice("BTC/USDT", d(100))
	return ex
}

func TestMockExchange_SpotMarketOrderSettles(t *testing.T) {
	ex := spotExchange()
	ctx := context.Background()

	o, err := ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeMarket, Quantity: d(2),
	}, nil)
	require.NoError(t, err)
	assert.True(t, o.IsFilled())
	assert.True(t, ex.Balance("BTC").Equal(d(2)))
	assert.True(t, ex.Balance("USDT").Equal(d(800)))

	_, err = ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideSell, Type: core.OrderTypeMarket, Quantity: d(3),
	}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

func TestMockExchange_LimitOrderRestsThenFills(t *testing.T) {
	ex := spotExchange()
	ctx := context.Background()

	o, err := ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeLimit, Quantity: d(1), Price: d(90),
	}, nil)
	require.NoError(t, err)
	assert.True(t, o.IsOpen())

	pre, err := ex.GetPreOrderData(ctx, "BTC/USDT", time.Second)
	require.NoError(t, err)
	assert.True(t, pre.AvailableReference.Equal(d(910)), "limit buy reserves funds")

	done := make(chan error, 1)
	go func() { done <- ex.WaitForOrderFill(ctx, o, time.Second, true) }()
	time.Sleep(20 * time.Millisecond)
	ex.SetPrice("BTC/USDT", d(89))

	require.NoError(t, <-done)
	assert.True(t, o.IsFilled())
	assert.True(t, ex.Balance("USDT").Equal(d(910)))
}

func TestMockExchange_WaitTimeout(t *testing.T) {
	ex := spotExchange()
	ctx := context.Background()
	o, err := ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeLimit, Quantity: d(1), Price: d(50),
	}, nil)
	require.NoError(t, err)

	err = ex.WaitForOrderFill(ctx, o, 10*time.Millisecond, true)
	assert.ErrorIs(t, err, apperrors.ErrFillTimeout)
	assert.NoError(t, ex.WaitForOrderFill(ctx, o, 10*time.Millisecond, false))

	require.NoError(t, ex.CancelOrder(ctx, o))
	assert.Equal(t, core.OrderStatusCanceled, o.Status)
	assert.True(t, ex.Balance("USDT").Equal(d(1000)))
}

func TestMockExchange_MarketOrdersDisabled(t *testing.T) {
	ex := spotExchange()
	ex.SetMarketOrdersEnabled("BTC/USDT", false)
	assert.False(t, ex.IsMarketOpenForOrderType("BTC/USDT", core.OrderTypeMarket))
	assert.True(t, ex.IsMarketOpenForOrderType("BTC/USDT", core.OrderTypeLimit))

	_, err := ex.CreateOrder(context.Background(), &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeMarket, Quantity: d(1),
	}, nil)
	assert.ErrorIs(t, err, apperrors.ErrMarketClosed)
}

func TestMockExchange_FuturesPositionAndMaxSize(t *testing.T) {
	opts := DefaultOptions("paper-futures")
	opts.MarketType = core.MarketTypeFutures
	opts.TakerFee = decimal.Zero
	opts.Leverage = d(2)
	opts.MaxPositionNotional = d(500)
	ex := NewMockExchange(opts)
	ex.SetBalance("USDT", d(1000))
	ex.SetPrice("BTC/USDT", d(100))
	ctx := context.Background()

	maxSize, increasing, err := ex.GetFuturesMaxOrderSize(ctx, "BTC/USDT", core.OrderSideBuy, d(100))
	require.NoError(t, err)
	assert.False(t, increasing)
	assert.True(t, maxSize.Equal(d(5)), "capped by max notional, got %s", maxSize)

	_, err = ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideBuy, Type: core.OrderTypeMarket, Quantity: d(3),
	}, nil)
	require.NoError(t, err)

	pos, err := ex.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(d(3)))

	maxSize, increasing, err = ex.GetFuturesMaxOrderSize(ctx, "BTC/USDT", core.OrderSideBuy, d(100))
	require.NoError(t, err)
	assert.True(t, increasing)
	assert.True(t, maxSize.Equal(d(2)))

	_, err = ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideSell, Type: core.OrderTypeMarket, Quantity: d(4), ReduceOnly: true,
	}, nil)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)

	ex.SetPrice("BTC/USDT", d(110))
	_, err = ex.CreateOrder(ctx, &core.OrderRequest{
		Symbol: "BTC/USDT", Side: core.OrderSideSell, Type: core.OrderTypeMarket, Quantity: d(3), ReduceOnly: true,
	}, nil)
	require.NoError(t, err)
	assert.True(t, ex.Balance("USDT").Equal(d(1030)), "realized pnl, got %s", ex.Balance("USDT"))

	require.NoError(t, ex.LoadContract(ctx, "BTC/USDT"))
	assert.True(t, ex.ContractLoaded("BTC/USDT"))
}
