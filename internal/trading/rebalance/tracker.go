package rebalance

import (
	"context"
	"errors"
	"sort"
	"sync"

	"index_trader/internal/core"
	"index_trader/pkg/apperrors"
	"index_trader/pkg/telemetry"
)

// Tracked links the orders of one rebalance action to its intent
type Tracked struct {
	Bucket Bucket
	Asset  string
	// InitialOrderID is the first order submitted for the action
	InitialOrderID string
	SecondaryIDs   []string
	Orders         []*core.Order
}

// OrderTracker holds the in-flight orders of a single cycle
type OrderTracker struct {
	logger core.ILogger

	mu      sync.Mutex
	entries map[string]*Tracked // key: bucket:asset
}

func NewOrderTracker(logger core.ILogger) *OrderTracker {
	return &OrderTracker{
		logger:  logger.WithField("component", "order_tracker"),
		entries: make(map[string]*Tracked),
	}
}

// Track records orders created for asset in bucket
func (t *OrderTracker) Track(bucket Bucket, asset string, orders ...*core.Order) {
	if len(orders) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := string(bucket) + ":" + asset
	entry, ok := t.entries[key]
	if !ok {
		entry = &Tracked{Bucket: bucket, Asset: asset}
		t.entries[key] = entry
	}
	for _, o := range orders {
		if entry.InitialOrderID == "" {
			entry.InitialOrderID = o.ID
		} else {
			entry.SecondaryIDs = append(entry.SecondaryIDs, o.ID)
		}
		entry.Orders = append(entry.Orders, o)
	}
	t.publishActive()
}

// Get returns the entry for asset in bucket
func (t *OrderTracker) Get(bucket Bucket, asset string) (*Tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[string(bucket)+":"+asset]
	return e, ok
}

// Orders returns tracked orders of the given buckets, all buckets when none given
func (t *OrderTracker) Orders(buckets ...Bucket) []*core.Order {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []*core.Order
	for _, k := range keys {
		e := t.entries[k]
		if len(buckets) > 0 && !containsBucket(buckets, e.Bucket) {
			continue
		}
		out = append(out, e.Orders...)
	}
	return out
}

// Cleanup cancels every order still open and forgets all entries
func (t *OrderTracker) Cleanup(ctx context.Context, gateway core.IOrderGateway) error {
	var errs []error
	for _, o := range t.Orders() {
		if !o.IsOpen() {
			continue
		}
		if err := gateway.CancelOrder(ctx, o); err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
			t.logger.Error("Failed to cancel leftover order", "order_id", o.ID, "symbol", o.Symbol, "error", err)
			errs = append(errs, err)
			continue
		}
		t.logger.Info("Canceled leftover order", "order_id", o.ID, "symbol", o.Symbol)
	}

	t.mu.Lock()
	t.entries = make(map[string]*Tracked)
	t.publishActive()
	t.mu.Unlock()
	return errors.Join(errs...)
}

// publishActive exports open order counts. Caller holds mu.
func (t *OrderTracker) publishActive() {
	counts := make(map[string]int64)
	for _, e := range t.entries {
		for _, o := range e.Orders {
			if o.IsOpen() {
				counts[o.Symbol]++
			} else if _, ok := counts[o.Symbol]; !ok {
				counts[o.Symbol] = 0
			}
		}
	}
	m := telemetry.GetGlobalMetrics()
	for _, sym := range sortedKeys(m.GetActiveOrders()) {
		if _, ok := counts[sym]; !ok {
			m.SetActiveOrders(sym, 0)
		}
	}
	for sym, n := range counts {
		m.SetActiveOrders(sym, n)
	}
}

func containsBucket(list []Bucket, b Bucket) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
