// Package tradingutils holds pure order-sizing math shared by the rebalancers
package tradingutils

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// InstantFillPriceDelta is how far past the market a limit order is priced to cross the book
	InstantFillPriceDelta = decimal.NewFromFloat(0.005)
)

// OrderSplit is one valid order after exchange rule checks
type OrderSplit struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Rules is the subset of exchange symbol rules used for order checks
type Rules struct {
	MinQuantity      decimal.Decimal
	MaxQuantity      decimal.Decimal
	MinCost          decimal.Decimal
	MaxCost          decimal.Decimal
	QuantityDecimals int32
	PriceDecimals    int32
}

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int32) decimal.Decimal {
	return price.Round(priceDecimals)
}

// TruncateQuantity floors a quantity to the specified decimals so it never exceeds what is held
func TruncateQuantity(qty decimal.Decimal, qtyDecimals int32) decimal.Decimal {
	return qty.Truncate(qtyDecimals)
}

// DeviationPercent returns |a-b|/b in percent. Zero reference yields zero.
func DeviationPercent(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(b).Mul(hundred)
}

// AdaptQuantityForFees sizes a buy so the post-fee filled amount lands at
// quantity, capped by what the available funds can pay for. For sells the
// quantity is only capped by the available base amount.
func AdaptQuantityForFees(quantity, price, available, feeRate decimal.Decimal, isBuy bool) decimal.Decimal {
	if quantity.Sign() <= 0 {
		return decimal.Zero
	}
	if !isBuy {
		return decimal.Min(quantity, available)
	}
	gross := quantity
	if feeRate.Sign() > 0 && feeRate.LessThan(one) {
		gross = quantity.Div(one.Sub(feeRate))
	}
	if price.Sign() > 0 && available.Sign() >= 0 {
		affordable := available.Div(price)
		if gross.GreaterThan(affordable) {
			gross = affordable
		}
	}
	return gross
}

// CheckAndAdaptOrderDetails applies precision and min/max limits to an order.
// Orders above the max quantity or cost are split into several orders. An
// empty result means no valid order can be created.
func CheckAndAdaptOrderDetails(quantity, price decimal.Decimal, rules Rules) []OrderSplit {
	price = RoundPrice(price, rules.PriceDecimals)
	quantity = TruncateQuantity(quantity, rules.QuantityDecimals)
	if quantity.Sign() <= 0 || price.Sign() <= 0 {
		return nil
	}

	maxQty := rules.MaxQuantity
	if rules.MaxCost.Sign() > 0 {
		byCost := TruncateQuantity(rules.MaxCost.Div(price), rules.QuantityDecimals)
		if maxQty.Sign() <= 0 || byCost.LessThan(maxQty) {
			maxQty = byCost
		}
	}

	var chunks []decimal.Decimal
	remaining := quantity
	if maxQty.Sign() > 0 {
		for remaining.GreaterThan(maxQty) {
			chunks = append(chunks, maxQty)
			remaining = remaining.Sub(maxQty)
		}
	}
	chunks = append(chunks, remaining)

	splits := make([]OrderSplit, 0, len(chunks))
	for _, qty := range chunks {
		if !isValidSize(qty, price, rules) {
			continue
		}
		splits = append(splits, OrderSplit{Quantity: qty, Price: price})
	}
	return splits
}

func isValidSize(qty, price decimal.Decimal, rules Rules) bool {
	if qty.Sign() <= 0 {
		return false
	}
	if rules.MinQuantity.Sign() > 0 && qty.LessThan(rules.MinQuantity) {
		return false
	}
	if rules.MinCost.Sign() > 0 && qty.Mul(price).LessThan(rules.MinCost) {
		return false
	}
	return true
}

// InstantlyFilledLimitPriceAndQuantity prices a limit order slightly past the
// market so it crosses the book. For buys the quantity shrinks so the spent
// amount stays within what the original price allowed.
func InstantlyFilledLimitPriceAndQuantity(marketPrice, quantity decimal.Decimal, isBuy bool, rules Rules) (decimal.Decimal, decimal.Decimal) {
	var price decimal.Decimal
	if isBuy {
		price = marketPrice.Mul(one.Add(InstantFillPriceDelta))
	} else {
		price = marketPrice.Mul(one.Sub(InstantFillPriceDelta))
	}
	price = RoundPrice(price, rules.PriceDecimals)
	if isBuy && price.Sign() > 0 {
		quantity = quantity.Mul(marketPrice).Div(price)
	}
	return price, TruncateQuantity(quantity, rules.QuantityDecimals)
}
