package rebalance

import (
	"context"
	"errors"
	"testing"

	"index_trader/internal/core"
	"index_trader/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpotRebalancer_BuyCoinNeverSells(t *testing.T) {
	tests := []struct {
		name  string
		held  float64
		ideal float64
	}{
		{"at target", 2, 2},
		{"above target", 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := paperSpot()
			ex.SetPrice("BTC/USDT", d(100))
			ex.SetBalance("USDT", d(1000))
			ex.SetBalance("BTC", d(tt.held))
			r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

			orders, err := r.BuyCoin(context.Background(), "BTC/USDT", d(tt.ideal), d(100), nil)
			require.NoError(t, err)
			assert.Empty(t, orders)
			assert.Empty(t, ex.Orders())
		})
	}
}

func TestSpotRebalancer_BuyCappedByAvailableReference(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(250))
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

	orders, err := r.BuyCoin(context.Background(), "BTC/USDT", d(10), d(100), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Quantity.Equal(d(2.5)), "got %s", orders[0].Quantity)
	assert.True(t, ex.Balance("USDT").IsZero())
}

func TestSpotRebalancer_FundsCapIncludesHeldQuantity(t *testing.T) {
	tests := []struct {
		name    string
		held    float64
		usdt    float64
		ideal   float64
		wantQty float64
	}{
		{"cash caps the whole position", 5, 600, 10, 1},
		{"ideal below cap", 5, 2000, 10, 5},
		{"cap below held buys nothing", 5, 300, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := paperSpot()
			ex.SetPrice("BTC/USDT", d(100))
			ex.SetBalance("USDT", d(tt.usdt))
			ex.SetBalance("BTC", d(tt.held))
			r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

			orders, err := r.BuyCoin(context.Background(), "BTC/USDT", d(tt.ideal), d(100), nil)
			require.NoError(t, err)
			if tt.wantQty == 0 {
				assert.Empty(t, orders)
				return
			}
			require.Len(t, orders, 1)
			assert.True(t, orders[0].Quantity.Equal(d(tt.wantQty)), "got %s want %v", orders[0].Quantity, tt.wantQty)
		})
	}
}

func TestSpotRebalancer_OrderTypeSelection(t *testing.T) {
	tests := []struct {
		name          string
		idealPrice    float64
		marketEnabled bool
		wantType      core.OrderType
		wantPrice     float64
		wantQty       float64
		wantStatus    core.OrderStatus
	}{
		{"near market uses market order", 100.5, true, core.OrderTypeMarket, 100, 2, core.OrderStatusFilled},
		{"far from market rests a limit", 90, true, core.OrderTypeLimit, 90, 2, core.OrderStatusOpen},
		{"market closed crosses the book", 100, false, core.OrderTypeLimit, 100.5, 1.990049, core.OrderStatusFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := paperSpot()
			ex.SetPrice("BTC/USDT", d(100))
			ex.SetBalance("USDT", d(1000))
			ex.SetMarketOrdersEnabled("BTC/USDT", tt.marketEnabled)
			r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

			orders, err := r.BuyCoin(context.Background(), "BTC/USDT", d(2), d(tt.idealPrice), nil)
			require.NoError(t, err)
			require.Len(t, orders, 1)
			o := orders[0]
			assert.Equal(t, tt.wantType, o.Type)
			assert.True(t, o.Price.Equal(d(tt.wantPrice)), "price %s", o.Price)
			assert.True(t, o.Quantity.Equal(d(tt.wantQty)), "quantity %s", o.Quantity)
			assert.Equal(t, tt.wantStatus, o.Status)
		})
	}
}

func TestSpotRebalancer_FeesGrossUpBuy(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(1000))
	ex.SetSymbolMarket(core.SymbolMarket{
		Symbol: "BTC/USDT", MinCost: d(5), QuantityDecimals: 6, PriceDecimals: 2,
		TakerFee: d(0.01), MakerFee: d(0.01),
	})
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

	orders, err := r.BuyCoin(context.Background(), "BTC/USDT", d(1), d(100), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	// 1 / (1 - 0.01) truncated to 6 decimals
	assert.True(t, orders[0].Quantity.Equal(d(1.010101)), "got %s", orders[0].Quantity)
}

func TestSpotRebalancer_OrderCreationError(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(1000))
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

	// 0.01 BTC costs 1 USDT, under the 5 USDT minimum
	orders, err := r.BuyCoin(context.Background(), "BTC/USDT", d(0.01), d(100), nil)
	assert.Empty(t, orders)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderCreation))

	var oce *OrderCreationError
	require.True(t, errors.As(err, &oce))
	assert.Equal(t, "BTC/USDT", oce.Symbol)
}

func TestSpotRebalancer_GatewayErrorWrapped(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(1000))
	ex.FailNextOrders(apperrors.ErrOrderRejected)
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

	_, err := r.BuyCoin(context.Background(), "BTC/USDT", d(1), d(100), nil)
	assert.ErrorIs(t, err, ErrOrderCreation)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestSpotRebalancer_SellDustIsSkipped(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("ETH/USDT", d(100))
	ex.SetBalance("ETH", d(0.01))
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

	orders, err := r.SellCoin(context.Background(), "ETH/USDT", d(0.01), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestSpotRebalancer_SwapCoin(t *testing.T) {
	ex := paperSpot()
	ex.SetPrice("SOL/ETH", d(0.05))
	ex.SetSymbolMarket(core.SymbolMarket{Symbol: "SOL/ETH", QuantityDecimals: 4, PriceDecimals: 6})
	ex.SetBalance("ETH", d(2))
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})

	orders, err := r.SwapCoin(context.Background(), "ETH", "SOL", d(2), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, core.OrderSideBuy, orders[0].Side)
	assert.Equal(t, "SOL/ETH", orders[0].Symbol)
	assert.True(t, ex.Balance("SOL").Equal(d(40)), "got %s", ex.Balance("SOL"))
	assert.True(t, ex.Balance("ETH").IsZero())

	_, err = r.SwapCoin(context.Background(), "ETH", "DOGE", d(1), nil)
	assert.Error(t, err)
}

func TestFuturesRebalancer_CapsOrderAtMaxSize(t *testing.T) {
	ex := paperFutures(500)
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(1000))
	r := NewFuturesRebalancer(ex, ex, ex, DefaultOptions(), &mockLogger{})
	ctx := context.Background()

	require.NoError(t, r.PrepareCoinRebalancing(ctx, "BTC/USDT"))
	assert.True(t, ex.ContractLoaded("BTC/USDT"))

	orders, err := r.BuyCoin(ctx, "BTC/USDT", d(10), d(100), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Quantity.Equal(d(5)), "quantity equals the cap, got %s", orders[0].Quantity)

	pos, err := ex.GetPosition(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, pos.Size.Equal(d(5)))

	// no room left: no order, no error
	orders, err = r.BuyCoin(ctx, "BTC/USDT", d(10), d(100), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestFuturesRebalancer_DeltaAgainstPosition(t *testing.T) {
	ex := paperFutures(0)
	ex.SetPrice("BTC/USDT", d(100))
	ex.SetBalance("USDT", d(1000))
	ex.SetPosition("BTC/USDT", d(3), d(100))
	r := NewFuturesRebalancer(ex, ex, ex, DefaultOptions(), &mockLogger{})
	ctx := context.Background()

	orders, err := r.BuyCoin(ctx, "BTC/USDT", d(3), d(100), nil)
	require.NoError(t, err)
	assert.Empty(t, orders)

	orders, err = r.BuyCoin(ctx, "BTC/USDT", d(4), d(100), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Quantity.Equal(d(1)))

	orders, err = r.SellCoin(ctx, "BTC/USDT", d(10), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].ReduceOnly)
	assert.True(t, orders[0].Quantity.Equal(d(4)))
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	ex := paperSpot()
	assert.Equal(t, []core.MarketType{core.MarketTypeFutures, core.MarketTypeSpot}, reg.MarketTypes())

	r, err := reg.Build(core.MarketTypeSpot, ex, ex, DefaultOptions(), &mockLogger{})
	require.NoError(t, err)
	assert.IsType(t, &SpotRebalancer{}, r)

	r, err = reg.Build(core.MarketTypeFutures, ex, ex, DefaultOptions(), &mockLogger{})
	require.NoError(t, err)
	assert.IsType(t, &FuturesRebalancer{}, r)

	_, err = reg.Build("options", ex, ex, DefaultOptions(), &mockLogger{})
	assert.Error(t, err)
}

func TestSelectOrderType_NoPrice(t *testing.T) {
	ex := paperSpot()
	r := NewSpotRebalancer(ex, ex, DefaultOptions(), &mockLogger{})
	choice := r.selectOrderType("BTC/USDT", d(10), decimal.Zero)
	assert.Equal(t, core.OrderTypeLimit, choice.Type)
	assert.False(t, choice.Instant)
}
