package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"copytrader/internal/config"
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"
)

type key struct {
	userID     string
	exchangeID string
}

// entry serializes connection attempts per account. A failed connect is not
// cached, so the next caller retries.
type entry struct {
	mu      sync.Mutex
	adapter core.IExchangeAdapter
}

// Registry hands out connected adapters keyed by (user, exchange) and owns
// their lifecycle. The leader account is configured once; followers are
// resolved from credential descriptors as commands arrive.
type Registry struct {
	cfg    *config.Config
	logger core.ILogger

	mu      sync.Mutex
	entries map[key]*entry
	counts  map[string]int64 // connected adapters per exchange
}

// NewRegistry creates an empty adapter registry.
func NewRegistry(cfg *config.Config, logger core.ILogger) *Registry {
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[key]*entry),
		counts:  make(map[string]int64),
	}
}

// Leader returns the connected adapter for the configured leader account.
func (r *Registry) Leader(ctx context.Context) (core.IExchangeAdapter, error) {
	desc, err := r.leaderDescriptor()
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, desc)
}

func (r *Registry) leaderDescriptor() (*core.AccountDescriptor, error) {
	app := r.cfg.App
	if app.LeaderUserID == "" || app.LeaderExchange == "" {
		r.logger.Error("leader account missing from configuration")
		return nil, apperrors.ErrLeaderNotConfigured
	}

	exchangeID := strings.ToLower(app.LeaderExchange)
	exCfg := r.cfg.Exchanges[exchangeID]
	return &core.AccountDescriptor{
		UserID:     app.LeaderUserID,
		ExchangeID: exchangeID,
		APIKey:     exCfg.APIKey.Value(),
		APISecret:  exCfg.SecretKey.Value(),
	}, nil
}

// Get returns the connected adapter for an account, building and connecting
// it on first use. Concurrent callers for the same account share one connect
// attempt; callers for different accounts do not block each other.
func (r *Registry) Get(ctx context.Context, desc *core.AccountDescriptor) (core.IExchangeAdapter, error) {
	k := key{userID: desc.UserID, exchangeID: strings.ToLower(desc.ExchangeID)}

	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		e = &entry{}
		r.entries[k] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter != nil {
		return e.adapter, nil
	}

	adapter, err := New(k.exchangeID, r.exchangeConfig(k.exchangeID, desc), desc.UserID, r.logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		_ = adapter.Close(ctx)
		return nil, fmt.Errorf("failed to connect %s account %s: %w", k.exchangeID, desc.UserID, err)
	}

	e.adapter = adapter
	r.mu.Lock()
	r.counts[k.exchangeID]++
	n := r.counts[k.exchangeID]
	r.mu.Unlock()
	telemetry.GetGlobalMetrics().SetAdapterCount(k.exchangeID, n)

	r.logger.Info("adapter connected", "exchange", k.exchangeID, "user_id", desc.UserID)
	return adapter, nil
}

// exchangeConfig merges account credentials with the venue-level endpoint
// overrides from the config file.
func (r *Registry) exchangeConfig(exchangeID string, desc *core.AccountDescriptor) *config.ExchangeConfig {
	exCfg := r.cfg.Exchanges[exchangeID]
	merged := &config.ExchangeConfig{
		APIKey:     config.Secret(desc.APIKey),
		SecretKey:  config.Secret(desc.APISecret),
		Passphrase: config.Secret(desc.APIPassphrase),
		BaseURL:    exCfg.BaseURL,
		WSURL:      exCfg.WSURL,
	}
	return merged
}

// CloseAll closes every connected adapter and empties the registry.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	exchanges := make([]string, 0, len(r.counts))
	for exchangeID := range r.counts {
		exchanges = append(exchanges, exchangeID)
	}
	r.entries = make(map[key]*entry)
	r.counts = make(map[string]int64)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.adapter != nil {
			if err := e.adapter.Close(ctx); err != nil {
				r.logger.Warn("adapter close failed", "exchange", e.adapter.Name(), "user_id", e.adapter.UserID(), "error", err)
			}
			e.adapter = nil
		}
		e.mu.Unlock()
	}

	metrics := telemetry.GetGlobalMetrics()
	for _, exchangeID := range exchanges {
		metrics.SetAdapterCount(exchangeID, 0)
	}
}
