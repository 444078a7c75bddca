// Package order provides order execution with rate limiting and retry logic
package order

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"index_trader/internal/core"
	"index_trader/pkg/apperrors"
	"index_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Options tunes the executor
type Options struct {
	OrdersPerSecond float64
	Burst           int
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// DefaultOptions returns conservative limits for a single exchange account
func DefaultOptions() Options {
	return Options{
		OrdersPerSecond: 10,
		Burst:           10,
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
	}
}

// Executor wraps an order gateway with rate limiting, retries and telemetry.
// It is itself a core.IOrderGateway so rebalancers never see the difference.
type Executor struct {
	gateway core.IOrderGateway
	logger  core.ILogger

	rateLimiter *rate.Limiter
	opts        Options

	errorMu         sync.Mutex
	errorTimestamps []time.Time
	errorIndex      int
	errorCapacity   int

	tracer       trace.Tracer
	retryCounter metric.Int64Counter
	failCounter  metric.Int64Counter
}

var _ core.IOrderGateway = (*Executor)(nil)

// NewExecutor creates an executor around gateway
func NewExecutor(gateway core.IOrderGateway, opts Options, logger core.ILogger) *Executor {
	def := DefaultOptions()
	if opts.OrdersPerSecond <= 0 {
		opts.OrdersPerSecond = def.OrdersPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = int(math.Max(1, opts.OrdersPerSecond))
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}

	meter := telemetry.GetMeter("order-executor")
	retryCounter, _ := meter.Int64Counter("index_trader_order_retries_total",
		metric.WithDescription("Total number of order call retries"))
	failCounter, _ := meter.Int64Counter("index_trader_order_failures_total",
		metric.WithDescription("Total number of failed order calls"))

	return &Executor{
		gateway:         gateway,
		logger:          logger.WithField("component", "order_executor"),
		rateLimiter:     rate.NewLimiter(rate.Limit(opts.OrdersPerSecond), opts.Burst),
		opts:            opts,
		errorCapacity:   1000,
		errorTimestamps: make([]time.Time, 0, 1000),
		tracer:          telemetry.GetTracer("order-executor"),
		retryCounter:    retryCounter,
		failCounter:     failCounter,
	}
}

// CreateOrder places an order, retrying network and rate-limit failures
func (e *Executor) CreateOrder(ctx context.Context, req *core.OrderRequest, deps *core.Dependencies) (*core.Order, error) {
	ctx, span := e.tracer.Start(ctx, "CreateOrder",
		trace.WithAttributes(
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
			attribute.String("type", string(req.Type)),
		),
	)
	defer span.End()

	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	var order *core.Order
	err := e.withRetry(ctx, "create", func() error {
		var err error
		order, err = e.gateway.CreateOrder(ctx, req, deps)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	telemetry.GetGlobalMetrics().RecordOrder(ctx, string(req.Side), string(req.Type))
	e.logger.Info("Order created",
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"quantity", req.Quantity.String(),
		"price", req.Price.String(),
		"order_id", order.ID,
		"status", order.Status)
	return order, nil
}

// WaitForOrderFill delegates to the gateway
func (e *Executor) WaitForOrderFill(ctx context.Context, order *core.Order, timeout time.Duration, raiseOnTimeout bool) error {
	start := time.Now()
	err := e.gateway.WaitForOrderFill(ctx, order, timeout, raiseOnTimeout)
	telemetry.GetGlobalMetrics().RecordFillWait(ctx, time.Since(start).Seconds())
	return err
}

// CancelOrder cancels an order. A missing order is not retried.
func (e *Executor) CancelOrder(ctx context.Context, order *core.Order) error {
	return e.withRetry(ctx, "cancel", func() error {
		return e.gateway.CancelOrder(ctx, order)
	})
}

// CheckHealth returns an error if too many order calls failed recently
func (e *Executor) CheckHealth() error {
	if n := e.getRecentErrorCount(5 * time.Minute); n > 50 {
		return fmt.Errorf("high error rate: %d errors in last 5 minutes", n)
	}
	return nil
}

// withRetry runs call under the rate limiter, retrying retryable errors with
// jittered exponential backoff. The last error is returned once retries run out.
func (e *Executor) withRetry(ctx context.Context, op string, call func() error) error {
	opAttr := metric.WithAttributes(attribute.String("op", op))
	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return apperrors.IsRetryable(err)
		}).
		WithBackoff(e.opts.BaseDelay, e.opts.MaxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(e.opts.MaxRetries).
		ReturnLastFailure().
		OnRetry(func(failsafe.ExecutionEvent[any]) {
			e.retryCounter.Add(ctx, 1, opAttr)
		}).
		Build()

	attempt := 0
	return failsafe.With[any](policy).WithContext(ctx).Run(func() error {
		attempt++
		if err := e.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
		err := call()
		if err != nil {
			e.recordError()
			e.failCounter.Add(ctx, 1, opAttr)
			e.logger.Warn("Order call failed", "op", op, "error", err, "attempt", attempt)
		}
		return err
	})
}

// recordError adds an error timestamp to a ring buffer
func (e *Executor) recordError() {
	e.errorMu.Lock()
	defer e.errorMu.Unlock()

	if len(e.errorTimestamps) < e.errorCapacity {
		e.errorTimestamps = append(e.errorTimestamps, time.Now())
		return
	}
	e.errorTimestamps[e.errorIndex] = time.Now()
	e.errorIndex = (e.errorIndex + 1) % e.errorCapacity
}

func (e *Executor) getRecentErrorCount(window time.Duration) int {
	e.errorMu.Lock()
	defer e.errorMu.Unlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, t := range e.errorTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}
