// Package rebalance converges a portfolio towards a target distribution
package rebalance

import (
	"sort"
	"time"

	"index_trader/internal/core"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Bucket is the classification of one asset in a cycle
type Bucket string

const (
	BucketRemove    Bucket = "remove"
	BucketAdd       Bucket = "add"
	BucketSwap      Bucket = "swap"
	BucketBuyMore   Bucket = "buy_more"
	BucketReduce    Bucket = "reduce"
	BucketUnchanged Bucket = "unchanged"
)

// TriggerProfile is a named set of thresholds, in percentage points
type TriggerProfile struct {
	Name                         string          `json:"name"`
	MinRatioDeviationPercent     decimal.Decimal `json:"min_ratio_deviation_percent"`
	MinSwapRatioDeviationPercent decimal.Decimal `json:"min_swap_ratio_deviation_percent"`
}

// Holding is one non-reference asset in the snapshot
type Holding struct {
	Asset    string          `json:"asset"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
	// Ratio is Value as a percentage of the snapshot total
	Ratio decimal.Decimal `json:"ratio"`
}

// Snapshot is the portfolio state read at the start of a cycle
type Snapshot struct {
	Reference      string             `json:"reference"`
	MarketType     core.MarketType    `json:"market_type"`
	ReferenceValue decimal.Decimal    `json:"reference_value"`
	TotalValue     decimal.Decimal    `json:"total_value"`
	Holdings       map[string]Holding `json:"holdings"`
	TakenAt        time.Time          `json:"taken_at"`
}

// Ratios returns the holding ratios for metrics
func (s *Snapshot) Ratios() map[string]float64 {
	out := make(map[string]float64, len(s.Holdings))
	for asset, h := range s.Holdings {
		out[asset] = h.Ratio.InexactFloat64()
	}
	return out
}

// Details is the classification output. Every held asset lands in exactly one
// of Remove, Swap, BuyMore, Reduce or Unchanged. Every target asset that is not
// held lands in Add.
type Details struct {
	Remove    []string          `json:"remove"`
	Add       []string          `json:"add"`
	Swap      map[string]string `json:"swap"`
	BuyMore   []string          `json:"buy_more"`
	Reduce    []string          `json:"reduce"`
	Unchanged []string          `json:"unchanged"`
}

func newDetails() *Details {
	return &Details{Swap: make(map[string]string)}
}

// Empty reports whether no trade is required
func (d *Details) Empty() bool {
	return len(d.Remove) == 0 && len(d.Add) == 0 && len(d.Swap) == 0 &&
		len(d.BuyMore) == 0 && len(d.Reduce) == 0
}

// OnlyRemovals reports whether the cycle is triggered purely by removed assets
func (d *Details) OnlyRemovals() bool {
	return len(d.Remove) > 0 && len(d.Add) == 0 && len(d.Swap) == 0 &&
		len(d.BuyMore) == 0 && len(d.Reduce) == 0
}

// BucketOf returns where an asset was classified, or "" when it is unknown
func (d *Details) BucketOf(asset string) Bucket {
	if _, ok := d.Swap[asset]; ok {
		return BucketSwap
	}
	for bucket, list := range map[Bucket][]string{
		BucketRemove:    d.Remove,
		BucketAdd:       d.Add,
		BucketBuyMore:   d.BuyMore,
		BucketReduce:    d.Reduce,
		BucketUnchanged: d.Unchanged,
	} {
		for _, a := range list {
			if a == asset {
				return bucket
			}
		}
	}
	return ""
}

// SwapSources returns the swapped assets in a stable order
func (d *Details) SwapSources() []string {
	out := make([]string, 0, len(d.Swap))
	for from := range d.Swap {
		out = append(out, from)
	}
	sort.Strings(out)
	return out
}

// Status of a finished cycle
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// CycleResult summarizes one rebalance cycle
type CycleResult struct {
	ID         string            `json:"id"`
	Status     Status            `json:"status"`
	Profile    string            `json:"profile"`
	Snapshot   *Snapshot         `json:"snapshot,omitempty"`
	Details    *Details          `json:"details,omitempty"`
	SellOrders []*core.Order     `json:"sell_orders,omitempty"`
	BuyOrders  []*core.Order     `json:"buy_orders,omitempty"`
	FillErrors map[string]string `json:"fill_errors,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
}

// OrderIDs lists every order created in the cycle
func (r *CycleResult) OrderIDs() []string {
	ids := make([]string, 0, len(r.SellOrders)+len(r.BuyOrders))
	for _, o := range r.SellOrders {
		ids = append(ids, o.ID)
	}
	for _, o := range r.BuyOrders {
		ids = append(ids, o.ID)
	}
	return ids
}
