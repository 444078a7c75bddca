// Package core defines the core interfaces for the index trader system
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IOrderGateway is the host's order submission API
type IOrderGateway interface {
	CreateOrder(ctx context.Context, req *OrderRequest, deps *Dependencies) (*Order, error)
	// WaitForOrderFill blocks until the order is filled. When raiseOnTimeout is
	// false an expired timeout returns nil and the order stays open.
	WaitForOrderFill(ctx context.Context, order *Order, timeout time.Duration, raiseOnTimeout bool) error
	CancelOrder(ctx context.Context, order *Order) error
}

// IMarketData exposes read-mostly portfolio and market state
type IMarketData interface {
	GetPreOrderData(ctx context.Context, symbol string, timeout time.Duration) (*PreOrderData, error)
	GetPortfolio(ctx context.Context) (*Portfolio, error)
	GetSymbolMarket(ctx context.Context, symbol string) (*SymbolMarket, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	IsMarketOpenForOrderType(symbol string, orderType OrderType) bool
}

// IFuturesMarket exposes contract and position state for derivatives
type IFuturesMarket interface {
	// LoadContract makes sure contract metadata is available before a position is opened
	LoadContract(ctx context.Context, symbol string) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	// GetFuturesMaxOrderSize returns the largest order allowed by margin and
	// exchange rules, and whether the order would increase an existing position.
	GetFuturesMaxOrderSize(ctx context.Context, symbol string, side OrderSide, price decimal.Decimal) (decimal.Decimal, bool, error)
}

// ICompletionService is the narrow LLM contract used by agents and the AI manager
type ICompletionService interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// IExchange groups every collaborator a rebalance cycle needs
type IExchange interface {
	IOrderGateway
	IMarketData
	IFuturesMarket
	GetName() string
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
