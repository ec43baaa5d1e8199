// Package mock provides an in-memory IExchangeAdapter for testing and the
// mock exchange backend.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
)

// LeverageCall records one SetLeverage invocation.
type LeverageCall struct {
	Symbol   string
	Leverage int
	Mode     core.MarginMode
}

// Adapter implements core.IExchangeAdapter with settable state. Market
// orders fill immediately and update the held positions, so fan-out logic
// can be exercised end to end.
type Adapter struct {
	name   string
	userID string

	mu           sync.RWMutex
	connected    bool
	connectErr   error
	accountValue decimal.Decimal
	accountErr   error
	positions    map[string]*core.Position
	tickers      map[string]*core.Ticker
	limits       map[string]*core.MarketLimits
	steps        map[string]decimal.Decimal

	orderIDSeq    int64
	failNextOrder string
	placeErr      error
	leverageErr   error

	placedRequests []*core.OrderRequest
	leverageCalls  []LeverageCall
	canceled       []string
}

// NewAdapter creates a mock adapter for the given account.
func NewAdapter(name, userID string) *Adapter {
	return &Adapter{
		name:         name,
		userID:       userID,
		accountValue: decimal.NewFromInt(10000),
		positions:    make(map[string]*core.Position),
		tickers:      make(map[string]*core.Ticker),
		limits:       make(map[string]*core.MarketLimits),
		steps:        make(map[string]decimal.Decimal),
		orderIDSeq:   1000,
	}
}

func (m *Adapter) Name() string   { return m.name }
func (m *Adapter) UserID() string { return m.userID }

func (m *Adapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *Adapter) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Adapter) requireConnected() error {
	if !m.connected {
		return apperrors.ErrNotConnected
	}
	return nil
}

func (m *Adapter) GetAccountValueUSDT(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.requireConnected(); err != nil {
		return decimal.Zero, err
	}
	if m.accountErr != nil {
		return decimal.Zero, m.accountErr
	}
	return m.accountValue, nil
}

func (m *Adapter) GetPositions(ctx context.Context, symbols ...string) ([]*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.requireConnected(); err != nil {
		return nil, err
	}

	var out []*core.Position
	for _, p := range m.positions {
		if len(symbols) > 0 && !containsString(symbols, p.Symbol) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Adapter) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.requireConnected(); err != nil {
		return nil, err
	}
	t, ok := m.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	cp := *t
	return &cp, nil
}

func (m *Adapter) GetMarketLimits(ctx context.Context, symbol string) (*core.MarketLimits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.requireConnected(); err != nil {
		return nil, err
	}
	l, ok := m.limits[symbol]
	if !ok {
		return &core.MarketLimits{}, nil
	}
	cp := *l
	return &cp, nil
}

func (m *Adapter) NormalizeAmount(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.requireConnected(); err != nil {
		return decimal.Zero, err
	}
	if step, ok := m.steps[symbol]; ok && step.IsPositive() {
		return amount.Div(step).Floor().Mul(step), nil
	}
	return amount.Truncate(8), nil
}

func (m *Adapter) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireConnected(); err != nil {
		return nil, err
	}
	if m.placeErr != nil {
		return nil, m.placeErr
	}

	cp := *req
	m.placedRequests = append(m.placedRequests, &cp)

	if m.failNextOrder != "" {
		msg := m.failNextOrder
		m.failNextOrder = ""
		return core.FailedOrder(req.Symbol, req.Side, req.Type, req.Amount, m.name, msg), nil
	}

	m.orderIDSeq++
	order := &core.Order{
		ID:            fmt.Sprintf("%d", m.orderIDSeq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Price:         req.Price,
		Status:        core.OrderStatusOpen,
		ReduceOnly:    req.ReduceOnly,
		TimestampMS:   time.Now().UnixMilli(),
		ExchangeID:    m.name,
		Details:       req.Details,
	}

	// Market orders fill immediately and move the held position.
	if req.Type == core.OrderTypeMarket {
		order.Status = core.OrderStatusClosed
		order.Filled = req.Amount
		if t, ok := m.tickers[req.Symbol]; ok {
			order.AveragePrice = t.Price()
		}
		m.applyFill(order)
	}

	return order, nil
}

func (m *Adapter) applyFill(order *core.Order) {
	pos := m.positions[order.Symbol]

	if order.ReduceOnly {
		if pos == nil {
			return
		}
		pos.Contracts = pos.Contracts.Sub(order.Filled)
		if !pos.Contracts.IsPositive() {
			delete(m.positions, order.Symbol)
		}
		return
	}

	side := core.PositionLong
	if order.Side == core.SideSell {
		side = core.PositionShort
	}
	if pos == nil {
		entry := order.AveragePrice
		m.positions[order.Symbol] = &core.Position{
			Symbol:      order.Symbol,
			Side:        side,
			Contracts:   order.Filled,
			EntryPrice:  entry,
			MarkPrice:   entry,
			Leverage:    decimal.NewFromInt(1),
			TimestampMS: order.TimestampMS,
			ExchangeID:  m.name,
		}
		return
	}
	pos.Contracts = pos.Contracts.Add(order.Filled)
}

func (m *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireConnected(); err != nil {
		return err
	}
	m.canceled = append(m.canceled, orderID)
	return nil
}

func (m *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int, mode core.MarginMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireConnected(); err != nil {
		return err
	}
	if m.leverageErr != nil {
		return m.leverageErr
	}
	m.leverageCalls = append(m.leverageCalls, LeverageCall{Symbol: symbol, Leverage: leverage, Mode: mode})
	return nil
}

// Test hooks.

// SetConnectError makes subsequent Connect calls fail.
func (m *Adapter) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetAccountValue sets the equity returned by GetAccountValueUSDT.
func (m *Adapter) SetAccountValue(v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountValue = v
}

// SetAccountError makes GetAccountValueUSDT fail.
func (m *Adapter) SetAccountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountErr = err
}

// SetPosition installs a position snapshot.
func (m *Adapter) SetPosition(p *core.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.ExchangeID = m.name
	m.positions[p.Symbol] = &cp
}

// RemovePosition deletes the position for a symbol.
func (m *Adapter) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// SetTicker installs a ticker snapshot.
func (m *Adapter) SetTicker(t *core.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickers[t.Symbol] = &cp
}

// SetLimits installs market limits for a symbol.
func (m *Adapter) SetLimits(symbol string, l *core.MarketLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.limits[symbol] = &cp
}

// SetAmountStep sets the lot step used by NormalizeAmount.
func (m *Adapter) SetAmountStep(symbol string, step decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[symbol] = step
}

// FailNextOrder makes the next PlaceOrder return a failed order with msg.
func (m *Adapter) FailNextOrder(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextOrder = msg
}

// SetPlaceError makes PlaceOrder return a connectivity error.
func (m *Adapter) SetPlaceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

// SetLeverageError makes SetLeverage fail.
func (m *Adapter) SetLeverageError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverageErr = err
}

// PlacedRequests returns a copy of every order request seen.
func (m *Adapter) PlacedRequests() []*core.OrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.OrderRequest, len(m.placedRequests))
	copy(out, m.placedRequests)
	return out
}

// LeverageCalls returns a copy of every SetLeverage invocation.
func (m *Adapter) LeverageCalls() []LeverageCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LeverageCall, len(m.leverageCalls))
	copy(out, m.leverageCalls)
	return out
}

// CanceledOrders returns the IDs passed to CancelOrder.
func (m *Adapter) CanceledOrders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.canceled))
	copy(out, m.canceled)
	return out
}

// PositionFor returns a copy of the held position for symbol, or nil.
func (m *Adapter) PositionFor(symbol string) *core.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
