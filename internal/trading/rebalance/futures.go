package rebalance

import (
	"context"
	"fmt"

	"index_trader/internal/core"

	"github.com/shopspring/decimal"
)

// FuturesRebalancer sizes positions instead of balances
type FuturesRebalancer struct {
	baseRebalancer
	futures core.IFuturesMarket
}

var _ Rebalancer = (*FuturesRebalancer)(nil)

func NewFuturesRebalancer(market core.IMarketData, futures core.IFuturesMarket, gateway core.IOrderGateway, opts Options, logger core.ILogger) *FuturesRebalancer {
	return &FuturesRebalancer{
		baseRebalancer: newBase(market, gateway, opts, logger.WithField("component", "futures_rebalancer")),
		futures:        futures,
	}
}

// PrepareCoinRebalancing loads the contract so a position can be opened
func (r *FuturesRebalancer) PrepareCoinRebalancing(ctx context.Context, symbol string) error {
	if err := r.futures.LoadContract(ctx, symbol); err != nil {
		return fmt.Errorf("load contract %s: %w", symbol, err)
	}
	return nil
}

func (r *FuturesRebalancer) positionSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pos, err := r.futures.GetPosition(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("position %s: %w", symbol, err)
	}
	if pos.IsIdle() {
		return decimal.Zero, nil
	}
	return pos.Size, nil
}

// BuyCoin grows the position towards idealAmount. The order is capped by the
// exchange max order size, so one cycle may stop short of the target.
func (r *FuturesRebalancer) BuyCoin(ctx context.Context, symbol string, idealAmount, idealPrice decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error) {
	pre, err := r.preOrderData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	size, err := r.positionSize(ctx, symbol)
	if err != nil {
		return nil, err
	}
	delta := idealAmount.Sub(size)
	if delta.Sign() <= 0 {
		return nil, nil
	}

	price := priceOr(idealPrice, pre.CurrentPrice)
	maxSize, increasing, err := r.futures.GetFuturesMaxOrderSize(ctx, symbol, core.OrderSideBuy, price)
	if err != nil {
		return nil, fmt.Errorf("max order size %s: %w", symbol, err)
	}
	if maxSize.Sign() <= 0 {
		r.logger.Warn("No margin left to grow position", "symbol", symbol, "delta", delta.String())
		return nil, nil
	}
	if delta.GreaterThan(maxSize) {
		r.logger.Info("Order capped by max order size",
			"symbol", symbol, "delta", delta.String(), "max_size", maxSize.String(), "increasing", increasing)
		delta = maxSize
	}

	return r.createOrders(ctx, orderIntent{
		symbol:     symbol,
		side:       core.OrderSideBuy,
		quantity:   delta,
		idealPrice: price,
		pre:        pre,
		required:   true,
		tag:        "rebalance_buy",
		deps:       deps,
	})
}

// SellCoin reduces a long position by up to amount. A short position is
// closed instead, with a reduce-only buy of up to |amount|.
func (r *FuturesRebalancer) SellCoin(ctx context.Context, symbol string, amount decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error) {
	pre, err := r.preOrderData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	size, err := r.positionSize(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if size.IsNegative() {
		qty := decimal.Min(amount.Abs(), size.Abs())
		r.logger.Info("Closing short position", "symbol", symbol, "size", size.String(), "quantity", qty.String())
		return r.createOrders(ctx, orderIntent{
			symbol:     symbol,
			side:       core.OrderSideBuy,
			quantity:   qty,
			idealPrice: pre.CurrentPrice,
			pre:        pre,
			reduceOnly: true,
			tag:        "rebalance_close_short",
			deps:       deps,
		})
	}
	qty := decimal.Min(amount, size)
	if qty.Sign() <= 0 {
		return nil, nil
	}
	return r.createOrders(ctx, orderIntent{
		symbol:     symbol,
		side:       core.OrderSideSell,
		quantity:   qty,
		idealPrice: pre.CurrentPrice,
		pre:        pre,
		reduceOnly: true,
		tag:        "rebalance_sell",
		deps:       deps,
	})
}
