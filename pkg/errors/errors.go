package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrNotConnected          = errors.New("adapter not connected")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Copy-trading errors
var (
	ErrLeaderNotConfigured = errors.New("leader account not configured")
	ErrUnknownExchange     = errors.New("unknown exchange")
	ErrNoPosition          = errors.New("no open position")
	ErrUnsupportedCommand  = errors.New("unsupported command")
)

// IsTransient reports whether an error is worth retrying at the adapter
// layer. Authentication and parameter errors are permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrTimestampOutOfBounds)
}
