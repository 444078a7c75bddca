package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"index_trader/internal/core"
	"index_trader/internal/trading/distribution"
	"index_trader/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// FillOrderTimeout bounds the wait for sell orders before buying
const FillOrderTimeout = 60 * time.Second

// EngineConfig configures a rebalance engine
type EngineConfig struct {
	Reference   string
	MarketType  core.MarketType
	Profile     TriggerProfile
	FillTimeout time.Duration
	AllowSwaps  bool
}

// Engine runs rebalance cycles: classify, sell, wait for fills, validate, buy
type Engine struct {
	cfg        EngineConfig
	exchange   core.IExchange
	gateway    core.IOrderGateway
	rebalancer Rebalancer
	classifier *Classifier
	logger     core.ILogger
	tracer     trace.Tracer

	// one cycle at a time
	mu sync.Mutex
}

// NewEngine creates an engine. The exchange is read for portfolio state and
// orders go through gateway, which is usually the rate limited executor.
func NewEngine(cfg EngineConfig, exchange core.IExchange, gateway core.IOrderGateway, rebalancer Rebalancer, logger core.ILogger) *Engine {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = FillOrderTimeout
	}
	if cfg.MarketType == "" {
		cfg.MarketType = core.MarketTypeSpot
	}
	var lookup SymbolLookup
	if cfg.AllowSwaps {
		lookup = exchange
	}
	return &Engine{
		cfg:        cfg,
		exchange:   exchange,
		gateway:    gateway,
		rebalancer: rebalancer,
		classifier: NewClassifier(cfg.Profile, lookup),
		logger:     logger.WithField("component", "rebalance_engine"),
		tracer:     telemetry.GetTracer("rebalance-engine"),
	}
}

// Snapshot reads the current holdings valued in the reference market
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	portfolio, err := e.exchange.GetPortfolio(ctx)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	ref := e.cfg.Reference
	snap := &Snapshot{
		Reference:      ref,
		MarketType:     e.cfg.MarketType,
		ReferenceValue: portfolio.Balances[ref].Total,
		Holdings:       make(map[string]Holding),
		TakenAt:        time.Now(),
	}

	if e.cfg.MarketType == core.MarketTypeFutures {
		// positions are margined, equity is the reference balance
		snap.TotalValue = snap.ReferenceValue
		for _, symbol := range sortedKeys(portfolio.Positions) {
			pos := portfolio.Positions[symbol]
			if pos.IsIdle() {
				continue
			}
			base, _ := core.SplitSymbol(symbol)
			snap.Holdings[base] = Holding{
				Asset:    base,
				Symbol:   symbol,
				Quantity: pos.Size,
				Price:    pos.MarkPrice,
				Value:    pos.Notional(),
			}
		}
	} else {
		total := snap.ReferenceValue
		for _, asset := range sortedKeys(portfolio.Balances) {
			bal := portfolio.Balances[asset]
			if asset == ref || !bal.Total.IsPositive() {
				continue
			}
			symbol := core.Symbol(asset, ref)
			price, err := e.exchange.GetPrice(ctx, symbol)
			if err != nil {
				e.logger.Warn("Asset has no reference market, ignored", "asset", asset, "error", err)
				continue
			}
			value := bal.Total.Mul(price)
			snap.Holdings[asset] = Holding{
				Asset:    asset,
				Symbol:   symbol,
				Quantity: bal.Total,
				Price:    price,
				Value:    value,
			}
			total = total.Add(value)
		}
		snap.TotalValue = total
	}

	for asset, h := range snap.Holdings {
		if snap.TotalValue.IsPositive() {
			h.Ratio = h.Value.Div(snap.TotalValue).Mul(hundred)
		}
		snap.Holdings[asset] = h
	}

	m := telemetry.GetGlobalMetrics()
	m.SetPortfolioValue(ref, snap.TotalValue.InexactFloat64())
	m.SetAssetRatios(snap.Ratios())
	return snap, nil
}

// Plan classifies the current portfolio against target without trading.
// Every target asset must have a market against the reference, so a bad
// target fails here before any order is placed.
func (e *Engine) Plan(ctx context.Context, target distribution.Target) (*Snapshot, *Details, error) {
	if err := target.Validate(e.cfg.Reference); err != nil {
		return nil, nil, err
	}
	if _, err := target.Resolve(ctx, e.cfg.Reference, e.exchange); err != nil {
		return nil, nil, err
	}
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return snap, e.classifier.Classify(ctx, snap, target), nil
}

// Rebalance runs one cycle. Sells are filled or timed out before any buy is
// sized, because buys spend the reference balance the sells free up. Any
// sizing or creation error aborts the rest of the cycle.
func (e *Engine) Rebalance(ctx context.Context, target distribution.Target) (res *CycleResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "Rebalance",
		trace.WithAttributes(attribute.String("market_type", string(e.cfg.MarketType))))
	defer span.End()

	res = &CycleResult{ID: uuid.NewString(), Profile: e.cfg.Profile.Name, StartedAt: time.Now()}
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
			span.RecordError(err)
		}
		telemetry.GetGlobalMetrics().RecordCycle(ctx, string(res.Status), res.Duration.Seconds())
	}()

	snap, details, err := e.Plan(ctx, target)
	if err != nil {
		return res, err
	}
	res.Snapshot = snap
	res.Details = details

	if details.Empty() {
		res.Status = StatusSkipped
		e.logger.Info("Portfolio within thresholds, nothing to do", "cycle", res.ID, "profile", e.cfg.Profile.Name)
		return res, nil
	}
	e.logger.Info("Rebalance started",
		"cycle", res.ID,
		"remove", details.Remove,
		"add", details.Add,
		"swap", details.Swap,
		"buy_more", details.BuyMore,
		"reduce", details.Reduce)

	tracker := NewOrderTracker(e.logger)
	defer func() {
		if cerr := tracker.Cleanup(context.WithoutCancel(ctx), e.gateway); cerr != nil {
			e.logger.Error("Order cleanup failed", "cycle", res.ID, "error", cerr)
		}
	}()

	if err = e.sellPhase(ctx, snap, target, details, tracker); err != nil {
		res.SellOrders = tracker.Orders()
		return res, err
	}
	res.SellOrders = tracker.Orders()

	res.FillErrors = e.waitForOrdersToFill(ctx, res.SellOrders)

	if err = e.validateSoldRemovedAssets(details, tracker); err != nil {
		return res, err
	}

	deps := (*core.Dependencies)(nil).Extend(res.SellOrders...)
	err = e.buyPhase(ctx, target, details, tracker, deps)
	res.BuyOrders = tracker.Orders(BucketAdd, BucketBuyMore)
	if err != nil {
		return res, err
	}

	res.Status = StatusDone
	e.logger.Info("Rebalance finished",
		"cycle", res.ID,
		"sell_orders", len(res.SellOrders),
		"buy_orders", len(res.BuyOrders),
		"fill_errors", len(res.FillErrors))
	return res, nil
}

func (e *Engine) sellPhase(ctx context.Context, snap *Snapshot, target distribution.Target, d *Details, tracker *OrderTracker) error {
	for _, asset := range d.Remove {
		h := snap.Holdings[asset]
		orders, err := e.rebalancer.SellCoin(ctx, h.Symbol, h.Quantity, nil)
		tracker.Track(BucketRemove, asset, orders...)
		if err != nil {
			return fmt.Errorf("sell removed %s: %w", asset, err)
		}
	}

	swapper, canSwap := e.rebalancer.(Swapper)
	for _, from := range d.SwapSources() {
		to := d.Swap[from]
		h := snap.Holdings[from]
		var orders []*core.Order
		var err error
		if canSwap {
			orders, err = swapper.SwapCoin(ctx, from, to, h.Quantity, nil)
		} else {
			orders, err = e.rebalancer.SellCoin(ctx, h.Symbol, h.Quantity, nil)
		}
		tracker.Track(BucketSwap, from, orders...)
		if err != nil {
			return fmt.Errorf("swap %s to %s: %w", from, to, err)
		}
	}

	for _, asset := range d.Reduce {
		h := snap.Holdings[asset]
		excess := h.Quantity.Sub(idealAmount(snap.TotalValue, target[asset], h.Price))
		if excess.Sign() <= 0 {
			continue
		}
		orders, err := e.rebalancer.SellCoin(ctx, h.Symbol, excess, nil)
		tracker.Track(BucketReduce, asset, orders...)
		if err != nil {
			return fmt.Errorf("reduce %s: %w", asset, err)
		}
	}
	return nil
}

// waitForOrdersToFill waits for every order concurrently. A timeout or failure
// of one order never hides the outcome of the others; errors are returned per
// order id.
func (e *Engine) waitForOrdersToFill(ctx context.Context, orders []*core.Order) map[string]string {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[string]string)
	)
	start := time.Now()
	for _, o := range orders {
		if o.IsFilled() {
			continue
		}
		g.Go(func() error {
			if err := e.gateway.WaitForOrderFill(ctx, o, e.cfg.FillTimeout, true); err != nil {
				mu.Lock()
				failed[o.ID] = err.Error()
				mu.Unlock()
				e.logger.Warn("Order not filled", "order_id", o.ID, "symbol", o.Symbol, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	telemetry.GetGlobalMetrics().RecordFillWait(ctx, time.Since(start).Seconds())
	if len(failed) == 0 {
		return nil
	}
	return failed
}

// validateSoldRemovedAssets aborts a cycle that only removes assets when no
// sell order was created for any of them, e.g. balances below exchange minimums
func (e *Engine) validateSoldRemovedAssets(d *Details, tracker *OrderTracker) error {
	if !d.OnlyRemovals() {
		return nil
	}
	for _, asset := range d.Remove {
		if entry, ok := tracker.Get(BucketRemove, asset); ok && len(entry.Orders) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no sell order created for removed assets %v", ErrMissingMinimalExchangeTradeVolume, d.Remove)
}

func (e *Engine) buyPhase(ctx context.Context, target distribution.Target, d *Details, tracker *OrderTracker, deps *core.Dependencies) error {
	if len(d.Add) == 0 && len(d.BuyMore) == 0 {
		return nil
	}
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("refresh snapshot: %w", err)
	}

	type buy struct {
		bucket Bucket
		asset  string
	}
	var buys []buy
	for _, a := range d.Add {
		buys = append(buys, buy{BucketAdd, a})
	}
	for _, a := range d.BuyMore {
		buys = append(buys, buy{BucketBuyMore, a})
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].asset < buys[j].asset })

	for _, b := range buys {
		symbol, price, err := e.symbolAndPrice(ctx, snap, b.asset)
		if err != nil {
			return err
		}
		if err := e.rebalancer.PrepareCoinRebalancing(ctx, symbol); err != nil {
			return err
		}
		ideal := idealAmount(snap.TotalValue, target[b.asset], price)
		orders, err := e.rebalancer.BuyCoin(ctx, symbol, ideal, price, deps)
		tracker.Track(b.bucket, b.asset, orders...)
		if err != nil {
			var oce *OrderCreationError
			if errors.As(err, &oce) {
				return err
			}
			return fmt.Errorf("buy %s: %w", b.asset, err)
		}
	}
	return nil
}

func (e *Engine) symbolAndPrice(ctx context.Context, snap *Snapshot, asset string) (string, decimal.Decimal, error) {
	if h, ok := snap.Holdings[asset]; ok && h.Price.IsPositive() {
		return h.Symbol, h.Price, nil
	}
	symbol := core.Symbol(asset, e.cfg.Reference)
	price, err := e.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("price %s: %w", symbol, err)
	}
	return symbol, price, nil
}
