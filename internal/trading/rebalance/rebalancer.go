package rebalance

import (
	"context"
	"fmt"
	"time"

	"index_trader/internal/core"
	"index_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Rebalancer buys and sells one symbol under a market's settlement model
type Rebalancer interface {
	// PrepareCoinRebalancing runs before any order on symbol is sized
	PrepareCoinRebalancing(ctx context.Context, symbol string) error
	// BuyCoin moves the holding of symbol up towards idealAmount. It never sells.
	BuyCoin(ctx context.Context, symbol string, idealAmount, idealPrice decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error)
	// SellCoin sells up to amount of the held base asset of symbol
	SellCoin(ctx context.Context, symbol string, amount decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error)
}

// Swapper converts one asset directly into another without the reference market
type Swapper interface {
	SwapCoin(ctx context.Context, from, to string, amount decimal.Decimal, deps *core.Dependencies) ([]*core.Order, error)
}

// Options shared by every rebalancer
type Options struct {
	// MarketOrderPriceThresholdPercent is the largest distance between the
	// intended and current price that still uses a market order
	MarketOrderPriceThresholdPercent decimal.Decimal
	PreOrderTimeout                  time.Duration
}

// DefaultOptions uses market orders within 1% of the current price
func DefaultOptions() Options {
	return Options{
		MarketOrderPriceThresholdPercent: decimal.NewFromInt(1),
		PreOrderTimeout:                  10 * time.Second,
	}
}

type baseRebalancer struct {
	market  core.IMarketData
	gateway core.IOrderGateway
	opts    Options
	logger  core.ILogger
}

func newBase(market core.IMarketData, gateway core.IOrderGateway, opts Options, logger core.ILogger) baseRebalancer {
	def := DefaultOptions()
	if opts.MarketOrderPriceThresholdPercent.IsZero() {
		opts.MarketOrderPriceThresholdPercent = def.MarketOrderPriceThresholdPercent
	}
	if opts.PreOrderTimeout <= 0 {
		opts.PreOrderTimeout = def.PreOrderTimeout
	}
	return baseRebalancer{market: market, gateway: gateway, opts: opts, logger: logger}
}

// orderChoice is the result of order type selection
type orderChoice struct {
	Type  core.OrderType
	Price decimal.Decimal
	// Instant marks a limit order standing in for an unavailable market order
	Instant bool
}

// selectOrderType prefers a market order when the intended price is close to
// the market. When market orders are unavailable for the symbol it falls back
// to a limit order priced to fill immediately.
func (b *baseRebalancer) selectOrderType(symbol string, idealPrice, currentPrice decimal.Decimal) orderChoice {
	if !currentPrice.IsPositive() {
		return orderChoice{Type: core.OrderTypeLimit, Price: idealPrice}
	}
	nearMarket := !idealPrice.IsPositive() ||
		tradingutils.DeviationPercent(idealPrice, currentPrice).LessThanOrEqual(b.opts.MarketOrderPriceThresholdPercent)
	if !nearMarket {
		return orderChoice{Type: core.OrderTypeLimit, Price: idealPrice}
	}
	if b.market.IsMarketOpenForOrderType(symbol, core.OrderTypeMarket) {
		return orderChoice{Type: core.OrderTypeMarket, Price: currentPrice}
	}
	return orderChoice{Type: core.OrderTypeLimit, Price: currentPrice, Instant: true}
}

type orderIntent struct {
	symbol     string
	side       core.OrderSide
	quantity   decimal.Decimal
	idealPrice decimal.Decimal
	pre        *core.PreOrderData
	// available caps fee adapted quantities; only read when adaptFees is set
	available  decimal.Decimal
	adaptFees  bool
	reduceOnly bool
	// required turns an empty split into an OrderCreationError
	required bool
	tag      string
	deps     *core.Dependencies
}

func rulesOf(m core.SymbolMarket) tradingutils.Rules {
	return tradingutils.Rules{
		MinQuantity:      m.MinQuantity,
		MaxQuantity:      m.MaxQuantity,
		MinCost:          m.MinCost,
		MaxCost:          m.MaxCost,
		QuantityDecimals: m.QuantityDecimals,
		PriceDecimals:    m.PriceDecimals,
	}
}

// createOrders sizes and submits the orders for one intent
func (b *baseRebalancer) createOrders(ctx context.Context, in orderIntent) ([]*core.Order, error) {
	isBuy := in.side == core.OrderSideBuy
	rules := rulesOf(in.pre.Market)
	choice := b.selectOrderType(in.symbol, in.idealPrice, in.pre.CurrentPrice)

	qty := in.quantity
	price := choice.Price
	if in.adaptFees {
		fee := in.pre.Market.MakerFee
		if choice.Type == core.OrderTypeMarket || choice.Instant {
			fee = in.pre.Market.TakerFee
		}
		qty = tradingutils.AdaptQuantityForFees(qty, price, in.available, fee, isBuy)
	}
	if choice.Instant {
		price, qty = tradingutils.InstantlyFilledLimitPriceAndQuantity(in.pre.CurrentPrice, qty, isBuy, rules)
	}

	splits := tradingutils.CheckAndAdaptOrderDetails(qty, price, rules)
	if len(splits) == 0 {
		if in.required {
			return nil, &OrderCreationError{
				Symbol:   in.symbol,
				Quantity: qty,
				Price:    price,
				Reason:   "no valid order after exchange rules",
			}
		}
		b.logger.Warn("Order below exchange minimums, skipped",
			"symbol", in.symbol, "side", in.side, "quantity", qty.String(), "price", price.String())
		return nil, nil
	}

	orders := make([]*core.Order, 0, len(splits))
	for _, split := range splits {
		req := &core.OrderRequest{
			Symbol:     in.symbol,
			Side:       in.side,
			Type:       choice.Type,
			Quantity:   split.Quantity,
			Price:      split.Price,
			ReduceOnly: in.reduceOnly,
			Tag:        in.tag,
		}
		order, err := b.gateway.CreateOrder(ctx, req, in.deps)
		if err != nil {
			return orders, &OrderCreationError{
				Symbol:   in.symbol,
				Quantity: split.Quantity,
				Price:    split.Price,
				Reason:   fmt.Sprintf("%s %s order rejected", choice.Type, in.side),
				Err:      err,
			}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (b *baseRebalancer) preOrderData(ctx context.Context, symbol string) (*core.PreOrderData, error) {
	pre, err := b.market.GetPreOrderData(ctx, symbol, b.opts.PreOrderTimeout)
	if err != nil {
		return nil, fmt.Errorf("pre order data for %s: %w", symbol, err)
	}
	return pre, nil
}

func priceOr(price, fallback decimal.Decimal) decimal.Decimal {
	if price.IsPositive() {
		return price
	}
	return fallback
}
