package rebalance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrOrderCreation marks a sizing decision that could not be turned into an order
	ErrOrderCreation = errors.New("order creation error")
	// ErrMissingMinimalExchangeTradeVolume aborts a removal-only cycle that sold nothing
	ErrMissingMinimalExchangeTradeVolume = errors.New("missing minimal exchange trade volume")
)

// OrderCreationError carries the order that should have been created
type OrderCreationError struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Reason   string
	Err      error
}

func (e *OrderCreationError) Error() string {
	msg := fmt.Sprintf("order creation error on %s (quantity %s, price %s): %s", e.Symbol, e.Quantity, e.Price, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderCreationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOrderCreation}
	}
	return []error{ErrOrderCreation, e.Err}
}
