// Package mock provides an in-memory paper exchange for tests and paper trading
package mock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"index_trader/internal/core"
	"index_trader/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// Options configures the paper exchange
type Options struct {
	Name             string
	MarketType       core.MarketType
	Reference        string
	TakerFee         decimal.Decimal
	MakerFee         decimal.Decimal
	MinCost          decimal.Decimal
	QuantityDecimals int32
	PriceDecimals    int32
	// Leverage and MaxPositionNotional only apply to futures
	Leverage            decimal.Decimal
	MaxPositionNotional decimal.Decimal
}

// MockExchange implements core.IExchange in memory. Market orders and
// crossing limit orders fill immediately; other limit orders rest until a
// price update crosses them.
type MockExchange struct {
	opts Options

	mu             sync.RWMutex
	balances       map[string]decimal.Decimal
	locked         map[string]decimal.Decimal
	prices         map[string]decimal.Decimal
	markets        map[string]core.SymbolMarket
	contracts      map[string]bool
	positions      map[string]*core.Position
	orders         map[string]*core.Order
	orderLocks     map[string]decimal.Decimal
	clientOrderMap map[string]string
	orderIDCounter int64
	marketClosed   map[string]bool
	waiters        map[string]chan struct{}
	createErrors   []error
}

var _ core.IExchange = (*MockExchange)(nil)

// DefaultOptions is a spot exchange settled in USDT
func DefaultOptions(name string) Options {
	return Options{
		Name:             name,
		MarketType:       core.MarketTypeSpot,
		Reference:        "USDT",
		TakerFee:         decimal.NewFromFloat(0.001),
		MakerFee:         decimal.NewFromFloat(0.001),
		MinCost:          decimal.NewFromInt(5),
		QuantityDecimals: 6,
		PriceDecimals:    2,
		Leverage:         decimal.NewFromInt(1),
	}
}

func NewMockExchange(opts Options) *MockExchange {
	if opts.Reference == "" {
		opts.Reference = "USDT"
	}
	if opts.MarketType == "" {
		opts.MarketType = core.MarketTypeSpot
	}
	if !opts.Leverage.IsPositive() {
		opts.Leverage = decimal.NewFromInt(1)
	}
	return &MockExchange{
		opts:           opts,
		balances:       make(map[string]decimal.Decimal),
		locked:         make(map[string]decimal.Decimal),
		prices:         make(map[string]decimal.Decimal),
		markets:        make(map[string]core.SymbolMarket),
		contracts:      make(map[string]bool),
		positions:      make(map[string]*core.Position),
		orders:         make(map[string]*core.Order),
		orderLocks:     make(map[string]decimal.Decimal),
		clientOrderMap: make(map[string]string),
		orderIDCounter: 1000,
		marketClosed:   make(map[string]bool),
		waiters:        make(map[string]chan struct{}),
	}
}

func (m *MockExchange) GetName() string {
	return m.opts.Name
}

// SetBalance sets the total balance of an asset
func (m *MockExchange) SetBalance(asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = amount
}

// AddMarket registers a symbol with the default rules
func (m *MockExchange) AddMarket(symbol string) core.SymbolMarket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addMarketLocked(symbol)
}

func (m *MockExchange) addMarketLocked(symbol string) core.SymbolMarket {
	if mk, ok := m.markets[symbol]; ok {
		return mk
	}
	base, quote := core.SplitSymbol(symbol)
	mk := core.SymbolMarket{
		Symbol:           symbol,
		Base:             base,
		Quote:            quote,
		MinCost:          m.opts.MinCost,
		QuantityDecimals: m.opts.QuantityDecimals,
		PriceDecimals:    m.opts.PriceDecimals,
		TakerFee:         m.opts.TakerFee,
		MakerFee:         m.opts.MakerFee,
	}
	m.markets[symbol] = mk
	return mk
}

// SetSymbolMarket overrides the rules of a symbol
func (m *MockExchange) SetSymbolMarket(mk core.SymbolMarket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mk.Base == "" {
		mk.Base, mk.Quote = core.SplitSymbol(mk.Symbol)
	}
	m.markets[mk.Symbol] = mk
}

// SetPrice updates the price of symbol, registering it if needed, and fills
// resting limit orders the new price crosses
func (m *MockExchange) SetPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addMarketLocked(symbol)
	m.prices[symbol] = price
	if pos, ok := m.positions[symbol]; ok {
		pos.MarkPrice = price
	}
	for _, id := range m.sortedOrderIDs() {
		o := m.orders[id]
		if o.Symbol != symbol || o.Status != core.OrderStatusOpen || !crosses(o, price) {
			continue
		}
		m.releaseLocked(o)
		if err := m.fillLocked(o, o.Price); err != nil {
			o.Status = core.OrderStatusRejected
		}
		m.notifyLocked(o.ID)
	}
}

// SetPosition sets a futures position
func (m *MockExchange) SetPosition(symbol string, size, entryPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addMarketLocked(symbol)
	mark := m.prices[symbol]
	if mark.IsZero() {
		mark = entryPrice
	}
	m.positions[symbol] = &core.Position{
		Symbol:     symbol,
		Size:       size,
		EntryPrice: entryPrice,
		MarkPrice:  mark,
		Leverage:   m.opts.Leverage,
	}
}

// SetMarketOrdersEnabled toggles market order support for a symbol
func (m *MockExchange) SetMarketOrdersEnabled(symbol string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketClosed[symbol] = !enabled
}

// FailNextOrders makes the next CreateOrder calls return errs in order
func (m *MockExchange) FailNextOrders(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErrors = append(m.createErrors, errs...)
}

// Orders returns copies of every order in creation order
func (m *MockExchange) Orders() []*core.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Order, 0, len(m.orders))
	for _, id := range m.sortedOrderIDs() {
		o := *m.orders[id]
		out = append(out, &o)
	}
	return out
}

// Balance returns the total balance of an asset
func (m *MockExchange) Balance(asset string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[asset]
}

// CreateOrder submits an order. Duplicate client order ids return the first order.
func (m *MockExchange) CreateOrder(ctx context.Context, req *core.OrderRequest, deps *core.Dependencies) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.createErrors) > 0 {
		err := m.createErrors[0]
		m.createErrors = m.createErrors[1:]
		return nil, err
	}

	if req.ClientOrderID != "" {
		if id, ok := m.clientOrderMap[req.ClientOrderID]; ok {
			o := *m.orders[id]
			return &o, nil
		}
	}

	if _, ok := m.markets[req.Symbol]; !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, req.Symbol)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s", apperrors.ErrInvalidOrderParameter, req.Quantity)
	}
	price := m.prices[req.Symbol]
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: no price for %s", apperrors.ErrMarketClosed, req.Symbol)
	}
	if req.Type == core.OrderTypeMarket && m.marketClosed[req.Symbol] {
		return nil, fmt.Errorf("%w: market orders on %s", apperrors.ErrMarketClosed, req.Symbol)
	}
	if req.Type == core.OrderTypeLimit && !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: limit price %s", apperrors.ErrInvalidOrderParameter, req.Price)
	}

	m.orderIDCounter++
	o := &core.Order{
		ID:             strconv.FormatInt(m.orderIDCounter, 10),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         core.OrderStatusOpen,
		Price:          req.Price,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		ReduceOnly:     req.ReduceOnly,
		Tag:            req.Tag,
		CreatedAt:      time.Now(),
	}

	switch {
	case req.Type == core.OrderTypeMarket:
		o.Price = price
		if err := m.fillLocked(o, price); err != nil {
			return nil, err
		}
	case crosses(o, price):
		if err := m.fillLocked(o, o.Price); err != nil {
			return nil, err
		}
	default:
		if err := m.lockLocked(o); err != nil {
			return nil, err
		}
	}

	m.orders[o.ID] = o
	if o.ClientOrderID != "" {
		m.clientOrderMap[o.ClientOrderID] = o.ID
	}
	cp := *o
	return &cp, nil
}

// WaitForOrderFill blocks until the order fills, is canceled, or the timeout expires
func (m *MockExchange) WaitForOrderFill(ctx context.Context, order *core.Order, timeout time.Duration, raiseOnTimeout bool) error {
	m.mu.Lock()
	stored, ok := m.orders[order.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, order.ID)
	}
	if stored.Status != core.OrderStatusOpen {
		syncOrder(order, stored)
		m.mu.Unlock()
		return finalError(stored)
	}
	ch, ok := m.waiters[order.ID]
	if !ok {
		ch = make(chan struct{})
		m.waiters[order.ID] = ch
	}
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if raiseOnTimeout {
			return fmt.Errorf("%w: order %s after %s", apperrors.ErrFillTimeout, order.ID, timeout)
		}
		return nil
	case <-ch:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	syncOrder(order, stored)
	return finalError(stored)
}

// CancelOrder cancels an open order. Already filled orders are left untouched.
func (m *MockExchange) CancelOrder(ctx context.Context, order *core.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, order.ID)
	}
	if stored.Status == core.OrderStatusOpen {
		m.releaseLocked(stored)
		stored.Status = core.OrderStatusCanceled
		m.notifyLocked(stored.ID)
	}
	syncOrder(order, stored)
	return nil
}

// GetPreOrderData returns holdings and rules for symbol
func (m *MockExchange) GetPreOrderData(ctx context.Context, symbol string, timeout time.Duration) (*core.PreOrderData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, ok := m.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	price := m.prices[symbol]

	pre := &core.PreOrderData{CurrentPrice: price, Market: mk}
	if m.opts.MarketType == core.MarketTypeFutures {
		if pos, ok := m.positions[symbol]; ok {
			pre.HeldQuantity = pos.Size
		}
		pre.AvailableReference = m.availableMarginLocked()
	} else {
		pre.HeldQuantity = m.availableLocked(mk.Base)
		pre.AvailableReference = m.availableLocked(mk.Quote)
	}
	if price.IsPositive() {
		pre.MarketQuantity = pre.AvailableReference.Div(price)
	}
	return pre, nil
}

// GetPortfolio returns balances and open positions
func (m *MockExchange) GetPortfolio(ctx context.Context) (*core.Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := &core.Portfolio{
		Balances:  make(map[string]core.Balance, len(m.balances)),
		Positions: make(map[string]*core.Position, len(m.positions)),
	}
	for asset, total := range m.balances {
		p.Balances[asset] = core.Balance{Total: total, Available: m.availableLocked(asset)}
	}
	for symbol, pos := range m.positions {
		if pos.IsIdle() {
			continue
		}
		cp := *pos
		p.Positions[symbol] = &cp
	}
	return p, nil
}

func (m *MockExchange) GetSymbolMarket(ctx context.Context, symbol string) (*core.SymbolMarket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return &mk, nil
}

func (m *MockExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return price, nil
}

func (m *MockExchange) IsMarketOpenForOrderType(symbol string, orderType core.OrderType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.markets[symbol]; !ok {
		return false
	}
	if orderType == core.OrderTypeMarket {
		return !m.marketClosed[symbol]
	}
	return true
}

// LoadContract marks a futures contract as loaded
func (m *MockExchange) LoadContract(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markets[symbol]; !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	m.contracts[symbol] = true
	return nil
}

// ContractLoaded reports whether LoadContract ran for symbol
func (m *MockExchange) ContractLoaded(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contracts[symbol]
}

func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pos, ok := m.positions[symbol]; ok {
		cp := *pos
		return &cp, nil
	}
	return &core.Position{Symbol: symbol, MarkPrice: m.prices[symbol], Leverage: m.opts.Leverage}, nil
}

// GetFuturesMaxOrderSize bounds an order by free margin and the max position notional
func (m *MockExchange) GetFuturesMaxOrderSize(ctx context.Context, symbol string, side core.OrderSide, price decimal.Decimal) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.markets[symbol]; !ok {
		return decimal.Zero, false, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	if !price.IsPositive() {
		price = m.prices[symbol]
	}
	if !price.IsPositive() {
		return decimal.Zero, false, nil
	}

	pos := m.positions[symbol]
	increasing := false
	if !pos.IsIdle() {
		increasing = (pos.Size.IsPositive() && side == core.OrderSideBuy) ||
			(pos.Size.IsNegative() && side == core.OrderSideSell)
	}

	maxSize := m.availableMarginLocked().Mul(m.opts.Leverage).Div(price)
	if m.opts.MaxPositionNotional.IsPositive() {
		room := m.opts.MaxPositionNotional
		if increasing {
			room = room.Sub(pos.Notional())
		}
		maxSize = decimal.Min(maxSize, room.Div(price))
	}
	if maxSize.IsNegative() {
		maxSize = decimal.Zero
	}
	return maxSize, increasing, nil
}

// availableLocked is the total balance minus funds reserved by open orders
func (m *MockExchange) availableLocked(asset string) decimal.Decimal {
	return m.balances[asset].Sub(m.locked[asset])
}

// availableMarginLocked is the reference balance not used as position margin
func (m *MockExchange) availableMarginLocked() decimal.Decimal {
	used := decimal.Zero
	for _, pos := range m.positions {
		used = used.Add(pos.Notional().Div(m.opts.Leverage))
	}
	free := m.availableLocked(m.opts.Reference).Sub(used)
	if free.IsNegative() {
		return decimal.Zero
	}
	return free
}

func (m *MockExchange) lockLocked(o *core.Order) error {
	asset, amount := m.reservation(o)
	if amount.GreaterThan(m.availableLocked(asset)) {
		return fmt.Errorf("%w: need %s %s", apperrors.ErrInsufficientFunds, amount, asset)
	}
	m.locked[asset] = m.locked[asset].Add(amount)
	m.orderLocks[o.ID] = amount
	return nil
}

func (m *MockExchange) releaseLocked(o *core.Order) {
	amount, ok := m.orderLocks[o.ID]
	if !ok {
		return
	}
	asset, _ := m.reservation(o)
	m.locked[asset] = m.locked[asset].Sub(amount)
	delete(m.orderLocks, o.ID)
}

// reservation is what a resting order holds back until it fills
func (m *MockExchange) reservation(o *core.Order) (string, decimal.Decimal) {
	mk := m.markets[o.Symbol]
	if m.opts.MarketType == core.MarketTypeFutures {
		return m.opts.Reference, o.Quantity.Mul(o.Price).Div(m.opts.Leverage)
	}
	if o.Side == core.OrderSideBuy {
		return mk.Quote, o.Quantity.Mul(o.Price)
	}
	return mk.Base, o.Quantity
}

// fillLocked settles a fill at price
func (m *MockExchange) fillLocked(o *core.Order, price decimal.Decimal) error {
	mk := m.markets[o.Symbol]
	fee := mk.TakerFee
	if o.Type == core.OrderTypeLimit {
		fee = mk.MakerFee
	}

	if m.opts.MarketType == core.MarketTypeFutures {
		if err := m.fillFuturesLocked(o, price, fee); err != nil {
			return err
		}
	} else {
		if err := m.fillSpotLocked(o, mk, price, fee); err != nil {
			return err
		}
	}
	o.Status = core.OrderStatusFilled
	o.FilledQuantity = o.Quantity
	return nil
}

func (m *MockExchange) fillSpotLocked(o *core.Order, mk core.SymbolMarket, price, fee decimal.Decimal) error {
	cost := o.Quantity.Mul(price)
	if o.Side == core.OrderSideBuy {
		if cost.GreaterThan(m.availableLocked(mk.Quote)) {
			return fmt.Errorf("%w: need %s %s", apperrors.ErrInsufficientFunds, cost, mk.Quote)
		}
		m.balances[mk.Quote] = m.balances[mk.Quote].Sub(cost)
		m.balances[mk.Base] = m.balances[mk.Base].Add(o.Quantity.Mul(decimal.NewFromInt(1).Sub(fee)))
		return nil
	}
	if o.Quantity.GreaterThan(m.availableLocked(mk.Base)) {
		return fmt.Errorf("%w: need %s %s", apperrors.ErrInsufficientFunds, o.Quantity, mk.Base)
	}
	m.balances[mk.Base] = m.balances[mk.Base].Sub(o.Quantity)
	m.balances[mk.Quote] = m.balances[mk.Quote].Add(cost.Mul(decimal.NewFromInt(1).Sub(fee)))
	return nil
}

func (m *MockExchange) fillFuturesLocked(o *core.Order, price, fee decimal.Decimal) error {
	pos, ok := m.positions[o.Symbol]
	if !ok {
		pos = &core.Position{Symbol: o.Symbol, Leverage: m.opts.Leverage}
		m.positions[o.Symbol] = pos
	}
	signed := o.Quantity
	if o.Side == core.OrderSideSell {
		signed = signed.Neg()
	}
	if o.ReduceOnly {
		if pos.IsIdle() || pos.Size.Sign() == signed.Sign() || o.Quantity.GreaterThan(pos.Size.Abs()) {
			return fmt.Errorf("%w: reduce only order would increase position", apperrors.ErrOrderRejected)
		}
	}

	notional := o.Quantity.Mul(price)
	if pos.IsIdle() || pos.Size.Sign() == signed.Sign() {
		if notional.Div(m.opts.Leverage).GreaterThan(m.availableMarginLocked()) {
			return fmt.Errorf("%w: margin for %s", apperrors.ErrInsufficientFunds, notional)
		}
		newSize := pos.Size.Add(signed)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Size.Abs()).Add(notional).Div(newSize.Abs())
		pos.Size = newSize
	} else {
		closing := decimal.Min(o.Quantity, pos.Size.Abs())
		pnl := price.Sub(pos.EntryPrice).Mul(closing)
		if pos.Size.IsNegative() {
			pnl = pnl.Neg()
		}
		m.balances[m.opts.Reference] = m.balances[m.opts.Reference].Add(pnl)
		pos.Size = pos.Size.Add(signed)
		if pos.Size.IsZero() {
			pos.EntryPrice = decimal.Zero
		} else if pos.Size.Sign() == signed.Sign() {
			// flipped through zero
			pos.EntryPrice = price
		}
	}
	pos.MarkPrice = price
	m.balances[m.opts.Reference] = m.balances[m.opts.Reference].Sub(notional.Mul(fee))
	return nil
}

func (m *MockExchange) notifyLocked(id string) {
	if ch, ok := m.waiters[id]; ok {
		close(ch)
		delete(m.waiters, id)
	}
}

func (m *MockExchange) sortedOrderIDs() []string {
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseInt(ids[i], 10, 64)
		b, _ := strconv.ParseInt(ids[j], 10, 64)
		return a < b
	})
	return ids
}

func crosses(o *core.Order, price decimal.Decimal) bool {
	if o.Type != core.OrderTypeLimit {
		return false
	}
	if o.Side == core.OrderSideBuy {
		return o.Price.GreaterThanOrEqual(price)
	}
	return o.Price.LessThanOrEqual(price)
}

func syncOrder(dst, src *core.Order) {
	dst.Status = src.Status
	dst.FilledQuantity = src.FilledQuantity
	dst.Price = src.Price
}

func finalError(o *core.Order) error {
	switch o.Status {
	case core.OrderStatusFilled:
		return nil
	case core.OrderStatusCanceled:
		return fmt.Errorf("%w: order %s canceled", apperrors.ErrOrderRejected, o.ID)
	default:
		return fmt.Errorf("%w: order %s %s", apperrors.ErrOrderRejected, o.ID, o.Status)
	}
}
