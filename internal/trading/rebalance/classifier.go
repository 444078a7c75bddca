package rebalance

import (
	"context"
	"sort"

	"index_trader/internal/core"
	"index_trader/internal/trading/distribution"

	"github.com/shopspring/decimal"
)

// SymbolLookup resolves exchange markets
type SymbolLookup interface {
	GetSymbolMarket(ctx context.Context, symbol string) (*core.SymbolMarket, error)
}

// Classifier sorts held and target assets into rebalance buckets
type Classifier struct {
	profile TriggerProfile
	// markets is used to find direct asset to asset markets. Nil disables swaps.
	markets SymbolLookup
}

// NewClassifier creates a classifier. Pass a nil lookup to disable swaps.
func NewClassifier(profile TriggerProfile, markets SymbolLookup) *Classifier {
	return &Classifier{profile: profile, markets: markets}
}

// Classify compares the snapshot with the target.
//
// A held asset missing from the target is removed, and so is every short
// futures position because rebalancing only holds longs. A held target asset moves to
// BuyMore or Reduce when its ratio drifts from its weight by more than the
// profile threshold, otherwise it is unchanged. Target assets not held long are added.
// A removed asset becomes a swap into an added asset when a direct market exists
// and the removed ratio is within the swap threshold of the added weight.
func (c *Classifier) Classify(ctx context.Context, snap *Snapshot, target distribution.Target) *Details {
	d := newDetails()

	held := make([]string, 0, len(snap.Holdings))
	for asset, h := range snap.Holdings {
		if !h.Quantity.IsZero() {
			held = append(held, asset)
		}
	}
	sort.Strings(held)

	for _, asset := range held {
		weight, inTarget := target[asset]
		if !inTarget || !weight.IsPositive() || snap.Holdings[asset].Quantity.IsNegative() {
			d.Remove = append(d.Remove, asset)
			continue
		}
		diff := weight.Sub(snap.Holdings[asset].Ratio)
		switch {
		case diff.GreaterThan(c.profile.MinRatioDeviationPercent):
			d.BuyMore = append(d.BuyMore, asset)
		case diff.Neg().GreaterThan(c.profile.MinRatioDeviationPercent):
			d.Reduce = append(d.Reduce, asset)
		default:
			d.Unchanged = append(d.Unchanged, asset)
		}
	}

	for _, asset := range target.Assets() {
		if !target[asset].IsPositive() {
			continue
		}
		if h, ok := snap.Holdings[asset]; ok && h.Quantity.IsPositive() {
			continue
		}
		d.Add = append(d.Add, asset)
	}

	if c.markets != nil && snap.MarketType == core.MarketTypeSpot {
		c.pairSwaps(ctx, snap, target, d)
	}
	return d
}

func (c *Classifier) pairSwaps(ctx context.Context, snap *Snapshot, target distribution.Target, d *Details) {
	if len(d.Remove) == 0 || len(d.Add) == 0 {
		return
	}
	used := make(map[string]bool)
	var remaining []string
	for _, from := range d.Remove {
		ratio := snap.Holdings[from].Ratio
		paired := false
		for _, to := range d.Add {
			if used[to] {
				continue
			}
			if ratio.Sub(target[to]).Abs().GreaterThan(c.profile.MinSwapRatioDeviationPercent) {
				continue
			}
			if _, _, ok := DirectMarket(ctx, c.markets, from, to); !ok {
				continue
			}
			d.Swap[from] = to
			used[to] = true
			paired = true
			break
		}
		if !paired {
			remaining = append(remaining, from)
		}
	}
	d.Remove = remaining
}

// DirectMarket finds a market trading from against to. sellBase is true when
// from is the base asset, meaning the conversion is a sell order.
func DirectMarket(ctx context.Context, markets SymbolLookup, from, to string) (string, bool, bool) {
	if symbol := core.Symbol(from, to); hasMarket(ctx, markets, symbol) {
		return symbol, true, true
	}
	if symbol := core.Symbol(to, from); hasMarket(ctx, markets, symbol) {
		return symbol, false, true
	}
	return "", false, false
}

func hasMarket(ctx context.Context, markets SymbolLookup, symbol string) bool {
	m, err := markets.GetSymbolMarket(ctx, symbol)
	return err == nil && m != nil
}

// idealAmount is the quantity of an asset matching its weight of the total value
func idealAmount(total, weight, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return total.Mul(weight).Div(hundred).Div(price)
}
