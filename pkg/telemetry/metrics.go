package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricRebalanceCyclesTotal = "index_trader_rebalance_cycles_total"
	MetricRebalanceOrdersTotal = "index_trader_rebalance_orders_total"
	MetricRebalanceDuration    = "index_trader_rebalance_duration_seconds"
	MetricOrderFillWait        = "index_trader_order_fill_wait_seconds"
	MetricAgentRunsTotal       = "index_trader_agent_runs_total"
	MetricLLMAttemptsTotal     = "index_trader_llm_attempts_total"
	MetricPortfolioValue       = "index_trader_portfolio_value"
	MetricAssetRatio           = "index_trader_asset_ratio_percent"
	MetricOrdersActive         = "index_trader_orders_active"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	RebalanceCyclesTotal metric.Int64Counter
	RebalanceOrdersTotal metric.Int64Counter
	RebalanceDuration    metric.Float64Histogram
	OrderFillWait        metric.Float64Histogram
	AgentRunsTotal       metric.Int64Counter
	LLMAttemptsTotal     metric.Int64Counter
	PortfolioValue       metric.Float64ObservableGauge
	AssetRatio           metric.Float64ObservableGauge
	OrdersActive         metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	portfolioValue  map[string]float64
	assetRatioMap   map[string]float64
	activeOrdersMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = newMetricsHolder()
	})
	return globalMetrics
}

func newMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		portfolioValue:  make(map[string]float64),
		assetRatioMap:   make(map[string]float64),
		activeOrdersMap: make(map[string]int64),
	}
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RebalanceCyclesTotal, err = meter.Int64Counter(MetricRebalanceCyclesTotal, metric.WithDescription("Rebalance cycles by outcome"))
	if err != nil {
		return err
	}

	m.RebalanceOrdersTotal, err = meter.Int64Counter(MetricRebalanceOrdersTotal, metric.WithDescription("Orders created by rebalances"))
	if err != nil {
		return err
	}

	m.RebalanceDuration, err = meter.Float64Histogram(MetricRebalanceDuration, metric.WithDescription("Duration of a rebalance cycle"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.OrderFillWait, err = meter.Float64Histogram(MetricOrderFillWait, metric.WithDescription("Time spent waiting for sell orders to fill"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.AgentRunsTotal, err = meter.Int64Counter(MetricAgentRunsTotal, metric.WithDescription("Agent executions by outcome"))
	if err != nil {
		return err
	}

	m.LLMAttemptsTotal, err = meter.Int64Counter(MetricLLMAttemptsTotal, metric.WithDescription("Structured completion attempts by outcome"))
	if err != nil {
		return err
	}

	// Observables
	m.PortfolioValue, err = meter.Float64ObservableGauge(MetricPortfolioValue, metric.WithDescription("Portfolio value in reference market"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ref, val := range m.portfolioValue {
				obs.Observe(val, metric.WithAttributes(attribute.String("reference", ref)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.AssetRatio, err = meter.Float64ObservableGauge(MetricAssetRatio, metric.WithDescription("Current holding ratio per asset"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for asset, val := range m.assetRatioMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("asset", asset)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of tracked open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Recorders are no-ops until InitMetrics has run.

func (m *MetricsHolder) RecordCycle(ctx context.Context, status string, seconds float64) {
	if m.RebalanceCyclesTotal != nil {
		m.RebalanceCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	if m.RebalanceDuration != nil {
		m.RebalanceDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (m *MetricsHolder) RecordOrder(ctx context.Context, side, orderType string) {
	if m.RebalanceOrdersTotal != nil {
		m.RebalanceOrdersTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("side", side),
			attribute.String("type", orderType),
		))
	}
}

func (m *MetricsHolder) RecordFillWait(ctx context.Context, seconds float64) {
	if m.OrderFillWait != nil {
		m.OrderFillWait.Record(ctx, seconds)
	}
}

func (m *MetricsHolder) RecordAgentRun(ctx context.Context, agent, status string) {
	if m.AgentRunsTotal != nil {
		m.AgentRunsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("status", status),
		))
	}
}

func (m *MetricsHolder) RecordLLMAttempt(ctx context.Context, outcome string) {
	if m.LLMAttemptsTotal != nil {
		m.LLMAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetPortfolioValue(reference string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioValue[reference] = value
}

// SetAssetRatios replaces the whole ratio snapshot so sold assets disappear
func (m *MetricsHolder) SetAssetRatios(ratios map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assetRatioMap = make(map[string]float64, len(ratios))
	for k, v := range ratios {
		m.assetRatioMap[k] = v
	}
}

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) GetAssetRatios() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.assetRatioMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}
