package apperrors

import "errors"

// Standardized exchange errors returned by order gateways
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrFillTimeout           = errors.New("order fill timeout")
	ErrMarketClosed          = errors.New("market closed for order type")
)

// IsRetryable reports whether an order call may succeed if attempted again
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrNetwork)
}
