package rebalance

import (
	"context"
	"fmt"

	"index_trader/internal/core"

	"github.com/shopspring/decimal"
)

// SpotRebalancer trades balances against the reference market
type SpotRebalancer struct {
	baseRebalancer
}

var (
	_ Rebalancer = (*SpotRebalancer)(nil)
	_ Swapper    = (*SpotRebalancer)(nil)
)

func NewSpotRebalancer(market core.IMarketData, gateway core.IOrderGateway, opts Options, logger core.ILogger) *SpotRebalancer {
	return &SpotRebalancer{
		baseRebalancer: newBase(market, gateway, opts, logger.WithField("component", "spot_rebalancer")),
	}
}

// PrepareCoinRebalancing is a no-op for spot markets
func (r *SpotRebalancer) PrepareCoinRebalancing(ctx context.Context, symbol string) error {
	return nil
}

// BuyCoin buys the missing part of idealAmount, never spending more than the
// available reference balance
func (r *SpotRebalancer) BuyCoin(ctx context.Context, symbol string, idealAmount, idealPrice decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error) {
	pre, err := r.preOrderData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price := priceOr(idealPrice, pre.CurrentPrice)
	if !price.IsPositive() {
		return nil, &OrderCreationError{Symbol: symbol, Quantity: idealAmount, Price: price, Reason: "no price"}
	}

	// the funds cap applies to the whole position, held quantity included
	targetAmount := decimal.Min(idealAmount, pre.AvailableReference.Div(price))
	delta := targetAmount.Sub(pre.HeldQuantity)
	if delta.Sign() <= 0 {
		r.logger.Debug("Nothing to buy", "symbol", symbol,
			"held", pre.HeldQuantity.String(),
			"ideal", idealAmount.String(),
			"available", pre.AvailableReference.String())
		return nil, nil
	}

	return r.createOrders(ctx, orderIntent{
		symbol:     symbol,
		side:       core.OrderSideBuy,
		quantity:   delta,
		idealPrice: price,
		pre:        pre,
		available:  pre.AvailableReference,
		adaptFees:  true,
		required:   true,
		tag:        "rebalance_buy",
		deps:       deps,
	})
}

// SellCoin sells up to amount of the held base asset
func (r *SpotRebalancer) SellCoin(ctx context.Context, symbol string, amount decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error) {
	pre, err := r.preOrderData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty := decimal.Min(amount, pre.HeldQuantity)
	if qty.Sign() <= 0 {
		return nil, nil
	}
	return r.createOrders(ctx, orderIntent{
		symbol:     symbol,
		side:       core.OrderSideSell,
		quantity:   qty,
		idealPrice: pre.CurrentPrice,
		pre:        pre,
		available:  pre.HeldQuantity,
		adaptFees:  true,
		tag:        "rebalance_sell",
		deps:       deps,
	})
}

// SwapCoin converts amount of from into to on their direct market. It pays
// one trading fee instead of the two of a sell and buy through the reference.
func (r *SpotRebalancer) SwapCoin(ctx context.Context, from, to string, amount decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error) {
	symbol, sellBase, ok := DirectMarket(ctx, r.market, from, to)
	if !ok {
		return nil, fmt.Errorf("no direct market between %s and %s", from, to)
	}
	if sellBase {
		return r.SellCoin(ctx, symbol, amount, deps)
	}

	// from is the quote: buy to with the from balance
	pre, err := r.preOrderData(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !pre.CurrentPrice.IsPositive() {
		return nil, nil
	}
	spend := decimal.Min(amount, pre.AvailableReference)
	if spend.Sign() <= 0 {
		return nil, nil
	}
	return r.createOrders(ctx, orderIntent{
		symbol:     symbol,
		side:       core.OrderSideBuy,
		quantity:   spend.Div(pre.CurrentPrice),
		idealPrice: pre.CurrentPrice,
		pre:        pre,
		available:  spend,
		adaptFees:  true,
		tag:        "rebalance_swap",
		deps:       deps,
	})
}
