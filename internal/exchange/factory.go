// Package exchange builds and caches the per-account venue adapters.
package exchange

import (
	"fmt"
	"strings"

	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/exchange/binance"
	"copytrader/internal/mock"
	apperrors "copytrader/pkg/errors"
)

// New creates an adapter for one account on the named venue. The returned
// adapter is not yet connected.
func New(exchangeID string, cfg *config.ExchangeConfig, userID string, logger core.ILogger) (core.IExchangeAdapter, error) {
	switch strings.ToLower(exchangeID) {
	case "binance":
		return binance.New(cfg, userID, logger), nil
	case "mock":
		return mock.NewAdapter("mock", userID), nil
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownExchange, exchangeID)
	}
}
