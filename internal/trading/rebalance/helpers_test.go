package rebalance

import (
	"index_trader/internal/core"
	"index_trader/internal/mock"

	"github.com/shopspring/decimal"
)

type mockLogger struct {
	core.ILogger
}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var balanced = TriggerProfile{
	Name:                         "balanced",
	MinRatioDeviationPercent:     d(2.5),
	MinSwapRatioDeviationPercent: d(5),
}

// paperSpot returns a fee-free spot exchange with USDT as reference
func paperSpot() *mock.MockExchange {
	opts := mock.DefaultOptions("paper")
	opts.TakerFee = decimal.Zero
	opts.MakerFee = decimal.Zero
	return mock.NewMockExchange(opts)
}

func paperFutures(maxNotional float64) *mock.MockExchange {
	opts := mock.DefaultOptions("paper-futures")
	opts.MarketType = core.MarketTypeFutures
	opts.TakerFee = decimal.Zero
	opts.MakerFee = decimal.Zero
	opts.MaxPositionNotional = d(maxNotional)
	return mock.NewMockExchange(opts)
}

func countSide(orders []*core.Order, side core.OrderSide) int {
	n := 0
	for _, o := range orders {
		if o.Side == side {
			n++
		}
	}
	return n
}
