// Package core defines the canonical data types and capability contracts
// shared by every other package in the copy trader.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger defines the logging interface used throughout the system.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IExchangeAdapter is the uniform capability surface over one authenticated
// exchange account. Every method returns ErrNotConnected when the adapter has
// not been connected or has been closed.
//
// PlaceOrder never returns a Go error for business rejects (insufficient
// margin, bad lot size); those come back as an Order with Status failed and
// ErrorMessage populated. Errors are reserved for connectivity and protocol
// failures.
type IExchangeAdapter interface {
	// Identity
	Name() string
	UserID() string

	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Account
	GetAccountValueUSDT(ctx context.Context) (decimal.Decimal, error)
	GetPositions(ctx context.Context, symbols ...string) ([]*Position, error)

	// Market data
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetMarketLimits(ctx context.Context, symbol string) (*MarketLimits, error)
	NormalizeAmount(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error)

	// Trading
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error

	// SetLeverage configures leverage and margin mode for a symbol. The
	// venue's "already at requested margin mode" no-change reply counts as
	// success.
	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error
}

// FindPosition returns the position for symbol from a snapshot list, or nil.
func FindPosition(positions []*Position, symbol string) *Position {
	for _, p := range positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}
