// Package distribution builds and validates target allocations of an index
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"index_trader/internal/core"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDistribution reports weights that cannot form a target
	ErrInvalidDistribution = errors.New("invalid distribution")

	// Tolerance absorbs rounding when checking that weights sum to 100
	Tolerance = decimal.NewFromFloat(0.01)

	hundred = decimal.NewFromInt(100)
)

const weightPrecision = 8

// Target maps an asset to its target percentage of the portfolio
type Target map[string]decimal.Decimal

// Entry is one configured asset weight. A zero weight shares what the
// explicit weights leave of 100 uniformly.
type Entry struct {
	Asset  string
	Weight decimal.Decimal
}

// Uniform spreads 100% evenly. The last asset absorbs the rounding remainder.
func Uniform(assets []string) Target {
	t := make(Target, len(assets))
	if len(assets) == 0 {
		return t
	}
	share := hundred.DivRound(decimal.NewFromInt(int64(len(assets))), weightPrecision)
	allocated := decimal.Zero
	for i, a := range assets {
		asset := normalizeAsset(a)
		if i == len(assets)-1 {
			t[asset] = hundred.Sub(allocated)
			break
		}
		t[asset] = share
		allocated = allocated.Add(share)
	}
	return t
}

// FromEntries builds a target from configured weights
func FromEntries(entries []Entry) (Target, error) {
	t := make(Target, len(entries))
	explicit := decimal.Zero
	var implicit []string
	for _, e := range entries {
		asset := normalizeAsset(e.Asset)
		if asset == "" {
			return nil, fmt.Errorf("%w: empty asset", ErrInvalidDistribution)
		}
		if _, dup := t[asset]; dup || contains(implicit, asset) {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidDistribution, asset)
		}
		if e.Weight.IsNegative() {
			return nil, fmt.Errorf("%w: negative weight for %s", ErrInvalidDistribution, asset)
		}
		if e.Weight.IsZero() {
			implicit = append(implicit, asset)
			continue
		}
		t[asset] = e.Weight
		explicit = explicit.Add(e.Weight)
	}

	if explicit.GreaterThan(hundred.Add(Tolerance)) {
		return nil, fmt.Errorf("%w: weights sum to %s", ErrInvalidDistribution, explicit)
	}
	if len(implicit) > 0 {
		rest := hundred.Sub(explicit)
		if !rest.IsPositive() {
			return nil, fmt.Errorf("%w: no weight left for %s", ErrInvalidDistribution, strings.Join(implicit, ","))
		}
		for asset, w := range Uniform(implicit) {
			t[asset] = w.Mul(rest).DivRound(hundred, weightPrecision)
		}
	}
	return t.Normalize(), nil
}

// Total returns the sum of weights
func (t Target) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, w := range t {
		sum = sum.Add(w)
	}
	return sum
}

// Assets returns target assets in sorted order
func (t Target) Assets() []string {
	assets := make([]string, 0, len(t))
	for a := range t {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

// Normalize rescales weights so they sum to 100. Zero weights are dropped.
func (t Target) Normalize() Target {
	out := make(Target, len(t))
	total := t.Total()
	if !total.IsPositive() {
		return out
	}
	assets := t.Assets()
	allocated := decimal.Zero
	var last string
	for _, a := range assets {
		if t[a].IsPositive() {
			last = a
		}
	}
	for _, a := range assets {
		w := t[a]
		if !w.IsPositive() {
			continue
		}
		if a == last {
			out[a] = hundred.Sub(allocated)
			break
		}
		scaled := w.Mul(hundred).DivRound(total, weightPrecision)
		out[a] = scaled
		allocated = allocated.Add(scaled)
	}
	return out
}

// Validate checks weights against the reference market
func (t Target) Validate(reference string) error {
	reference = normalizeAsset(reference)
	for key, w := range t {
		asset := normalizeAsset(key)
		if asset == "" {
			return fmt.Errorf("%w: empty asset", ErrInvalidDistribution)
		}
		if asset == reference {
			return fmt.Errorf("%w: reference market %s cannot be a target asset", ErrInvalidDistribution, asset)
		}
		if w.IsNegative() {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidDistribution, asset)
		}
	}
	if total := t.Total(); total.GreaterThan(hundred.Add(Tolerance)) {
		return fmt.Errorf("%w: weights sum to %s", ErrInvalidDistribution, total)
	}
	return nil
}

// MarketLookup resolves symbol rules
type MarketLookup interface {
	GetSymbolMarket(ctx context.Context, symbol string) (*core.SymbolMarket, error)
}

// Resolve maps every target asset to its tradeable symbol against the reference market
func (t Target) Resolve(ctx context.Context, reference string, markets MarketLookup) (map[string]string, error) {
	symbols := make(map[string]string, len(t))
	for _, asset := range t.Assets() {
		symbol := core.Symbol(asset, reference)
		if _, err := markets.GetSymbolMarket(ctx, symbol); err != nil {
			return nil, fmt.Errorf("%w: %s is not tradeable: %v", ErrInvalidDistribution, symbol, err)
		}
		symbols[asset] = symbol
	}
	return symbols, nil
}

// Clone copies the target
func (t Target) Clone() Target {
	out := make(Target, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Floats converts weights for logging and JSON prompts
func (t Target) Floats() map[string]float64 {
	out := make(map[string]float64, len(t))
	for k, v := range t {
		out[k] = v.InexactFloat64()
	}
	return out
}

func normalizeAsset(a string) string {
	return strings.ToUpper(strings.TrimSpace(a))
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
