package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType selects the settlement model of a rebalance
type MarketType string

const (
	MarketTypeSpot    MarketType = "spot"
	MarketTypeFutures MarketType = "futures"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderRequest describes an order to submit
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
	Tag           string
}

// Order is the host's view of a submitted order
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Status         OrderStatus     `json:"status"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	ReduceOnly     bool            `json:"reduce_only"`
	Tag            string          `json:"tag,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (o *Order) IsFilled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

func (o *Order) IsOpen() bool {
	return o != nil && o.Status == OrderStatusOpen
}

// Dependencies links an order to earlier orders it must wait for
type Dependencies struct {
	OrderIDs []string
}

// Extend returns dependencies that also include the given orders
func (d *Dependencies) Extend(orders ...*Order) *Dependencies {
	out := &Dependencies{}
	if d != nil {
		out.OrderIDs = append(out.OrderIDs, d.OrderIDs...)
	}
	for _, o := range orders {
		if o != nil && o.ID != "" {
			out.OrderIDs = append(out.OrderIDs, o.ID)
		}
	}
	return out
}

// SymbolMarket carries the exchange rules for one symbol
type SymbolMarket struct {
	Symbol           string
	Base             string
	Quote            string
	MinQuantity      decimal.Decimal
	MaxQuantity      decimal.Decimal
	MinCost          decimal.Decimal
	MaxCost          decimal.Decimal
	QuantityDecimals int32
	PriceDecimals    int32
	TakerFee         decimal.Decimal
	MakerFee         decimal.Decimal
}

// PreOrderData is the market snapshot taken before sizing an order
type PreOrderData struct {
	HeldQuantity       decimal.Decimal
	AvailableReference decimal.Decimal
	MarketQuantity     decimal.Decimal
	CurrentPrice       decimal.Decimal
	Market             SymbolMarket
}

// Position is an open derivatives position. Size is signed; zero means idle.
type Position struct {
	Symbol     string          `json:"symbol"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	Leverage   decimal.Decimal `json:"leverage"`
}

func (p *Position) IsIdle() bool {
	return p == nil || p.Size.IsZero()
}

// Notional returns the absolute position value at mark price
func (p *Position) Notional() decimal.Decimal {
	if p.IsIdle() {
		return decimal.Zero
	}
	return p.Size.Abs().Mul(p.MarkPrice)
}

// Balance is one asset holding
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// Portfolio is a point-in-time snapshot of holdings
type Portfolio struct {
	Balances  map[string]Balance   `json:"balances"`
	Positions map[string]*Position `json:"positions"`
}

// Message is a single chat message sent to a completion service
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions tunes a completion call
type CompletionOptions struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	JSONOutput     bool
	ResponseSchema json.RawMessage
}

// Symbol joins a base and quote asset into a market symbol
func Symbol(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// SplitSymbol returns the base and quote of a symbol like BTC/USDT
func SplitSymbol(symbol string) (string, string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return strings.ToUpper(symbol), ""
	}
	quote := parts[1]
	// futures symbols may carry a settlement suffix, e.g. BTC/USDT:USDT
	if idx := strings.Index(quote, ":"); idx >= 0 {
		quote = quote[:idx]
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(quote)
}
