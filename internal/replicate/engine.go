// Package replicate mirrors leader orders onto follower accounts: the
// dispatcher executes leader commands, the engine fans the resulting fills
// out to every active follower with proportional sizing.
package replicate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"copytrader/internal/core"
	"copytrader/internal/sizing"
	"copytrader/pkg/telemetry"
)

// AdapterResolver yields connected adapters for account descriptors. The
// exchange registry is the production implementation.
type AdapterResolver interface {
	Leader(ctx context.Context) (core.IExchangeAdapter, error)
	Get(ctx context.Context, desc *core.AccountDescriptor) (core.IExchangeAdapter, error)
}

// FollowerSource lists the replicable follower accounts. The credential
// store is the production implementation.
type FollowerSource interface {
	LoadFollowers(requireCopyEnabled bool) ([]core.AccountDescriptor, error)
}

// Follower result states.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// FollowerResult records the outcome of one follower in a fan-out.
type FollowerResult struct {
	UserID     string      `json:"user_id"`
	ExchangeID string      `json:"exchange_id"`
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Order      *core.Order `json:"order,omitempty"`
}

// Summary aggregates one replication fan-out.
type Summary struct {
	Total      int              `json:"total"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Details    []FollowerResult `json:"details"`
}

func summarize(details []FollowerResult) *Summary {
	s := &Summary{Total: len(details), Details: details}
	for _, d := range details {
		switch d.Status {
		case StatusSuccess:
			s.Successful++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// Engine replicates one leader order to the follower set.
type Engine struct {
	registry AdapterResolver
	store    FollowerSource
	params   sizing.Params
	logger   core.ILogger
}

// NewEngine builds a replication engine over the shared adapter registry and
// credential store.
func NewEngine(registry AdapterResolver, store FollowerSource, params sizing.Params, logger core.ILogger) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
		params:   params,
		logger:   logger.WithField("component", "replicate"),
	}
}

// BuildLeaderEvent classifies a leader fill against the leader's post-trade
// position. Returns nil when the fill cannot be interpreted (no position and
// not reduce-only, a race against a prior close); the reconciliation loop
// repairs that case.
func BuildLeaderEvent(order *core.Order, leaderPosition *core.Position) *core.LeaderEvent {
	if order == nil {
		return nil
	}

	if leaderPosition == nil {
		if !order.ReduceOnly {
			return nil
		}
		closed := order.Filled
		if !closed.IsPositive() {
			closed = order.Amount
		}
		closedSide := core.PositionLong
		if order.Side == core.SideBuy {
			closedSide = core.PositionShort
		}
		return &core.LeaderEvent{
			Kind:            core.EventFullClose,
			Symbol:          order.Symbol,
			Order:           order,
			ClosedContracts: closed,
			ClosedSide:      closedSide,
		}
	}

	if order.ReduceOnly {
		return &core.LeaderEvent{
			Kind:     core.EventPartialClose,
			Symbol:   order.Symbol,
			Order:    order,
			Position: leaderPosition,
		}
	}

	return &core.LeaderEvent{
		Kind:     core.EventOpen,
		Symbol:   order.Symbol,
		Order:    order,
		Position: leaderPosition,
	}
}

// Replicate fans one leader fill out to every active follower. The returned
// error covers only leader-side failures (equity or position reads); follower
// failures live in the summary.
func (e *Engine) Replicate(ctx context.Context, leader core.IExchangeAdapter, order *core.Order) (*Summary, error) {
	start := time.Now()
	defer func() {
		telemetry.GetGlobalMetrics().IncReplication(ctx, time.Since(start).Seconds())
	}()

	followers, err := e.store.LoadFollowers(true)
	if err != nil {
		return nil, fmt.Errorf("failed to load followers: %w", err)
	}

	// Never replicate the leader onto itself.
	active := followers[:0]
	for _, f := range followers {
		if f.UserID != leader.UserID() {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		e.logger.Info("no followers to replicate to", "symbol", order.Symbol)
		return &Summary{}, nil
	}

	leaderEquity, err := leader.GetAccountValueUSDT(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read leader equity: %w", err)
	}
	if leaderEquity.LessThanOrEqual(e.params.MinEquityUSDT) {
		return nil, fmt.Errorf("leader equity %s too low to replicate", leaderEquity)
	}

	positions, err := leader.GetPositions(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read leader positions: %w", err)
	}

	event := BuildLeaderEvent(order, core.FindPosition(positions, order.Symbol))
	if event == nil {
		e.logger.Warn("leader fill not interpretable, leaving to reconciliation",
			"symbol", order.Symbol, "reduce_only", order.ReduceOnly)
		return &Summary{}, nil
	}

	e.logger.Info("replicating leader event",
		"symbol", event.Symbol, "kind", event.Kind.String(), "followers", len(active))

	details := make([]FollowerResult, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, desc := range active {
		g.Go(func() error {
			details[i] = e.replicateOne(gctx, event, leaderEquity, desc)
			telemetry.GetGlobalMetrics().IncFollowerOrder(gctx, details[i].Status)
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(details)
	e.logger.Info("replication complete",
		"symbol", event.Symbol,
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

// replicateOne runs the whole per-follower pipeline. It never returns an
// error: every outcome folds into the result record so one bad follower
// cannot poison its siblings.
func (e *Engine) replicateOne(ctx context.Context, event *core.LeaderEvent, leaderEquity decimal.Decimal, desc core.AccountDescriptor) (result FollowerResult) {
	result = FollowerResult{UserID: desc.UserID, ExchangeID: desc.ExchangeID}
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Reason = fmt.Sprintf("panic: %v", r)
			e.logger.Error("follower replication panicked", "user_id", desc.UserID, "panic", r)
		}
	}()

	adapter, err := e.registry.Get(ctx, &desc)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("adapter unavailable: %v", err)
		return result
	}

	equity, err := adapter.GetAccountValueUSDT(ctx)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("equity read failed: %v", err)
		return result
	}
	telemetry.GetGlobalMetrics().SetFollowerEquity(desc.UserID, equity.InexactFloat64())
	if equity.LessThanOrEqual(e.params.MinEquityUSDT) {
		result.Status = StatusSkipped
		result.Reason = fmt.Sprintf("equity %s at or below minimum", equity)
		return result
	}

	var req *core.OrderRequest
	switch event.Kind {
	case core.EventFullClose, core.EventPartialClose:
		req, err = e.buildCloseRequest(ctx, adapter, event)
	case core.EventOpen:
		req, err = e.buildOpenRequest(ctx, adapter, event, leaderEquity, equity)
	default:
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("unhandled event kind %d", event.Kind)
		return result
	}
	if err != nil {
		result.Status = StatusFailed
		result.Reason = err.Error()
		return result
	}
	if req == nil {
		result.Status = StatusSkipped
		result.Reason = "nothing to do"
		return result
	}

	// Renormalize once more right before placing; a no-op in steady state.
	normalized, err := adapter.NormalizeAmount(ctx, req.Symbol, req.Amount)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("amount normalization failed: %v", err)
		return result
	}
	if !normalized.IsPositive() {
		result.Status = StatusSkipped
		result.Reason = "amount rounds to zero"
		return result
	}
	req.Amount = normalized

	order, err := adapter.PlaceOrder(ctx, req)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("order placement failed: %v", err)
		return result
	}
	result.Order = order
	if order.Status == core.OrderStatusFailed {
		result.Status = StatusFailed
		result.Reason = order.ErrorMessage
		return result
	}

	result.Status = StatusSuccess
	return result
}

// buildCloseRequest sizes the follower's share of a leader close. A nil
// request with nil error means skip (no position to reduce).
func (e *Engine) buildCloseRequest(ctx context.Context, adapter core.IExchangeAdapter, event *core.LeaderEvent) (*core.OrderRequest, error) {
	positions, err := adapter.GetPositions(ctx, event.Symbol)
	if err != nil {
		return nil, fmt.Errorf("position read failed: %w", err)
	}
	pos := core.FindPosition(positions, event.Symbol)
	if pos == nil || !pos.Contracts.IsPositive() {
		return nil, nil
	}

	amount := pos.Contracts
	if event.Kind == core.EventPartialClose {
		amount = pos.Contracts.Mul(event.CloseFraction())
	}
	if !amount.IsPositive() {
		return nil, nil
	}

	return &core.OrderRequest{
		Symbol:     event.Symbol,
		Type:       core.OrderTypeMarket,
		Side:       pos.Side.CloseSide(),
		Amount:     amount,
		ReduceOnly: true,
	}, nil
}

// buildOpenRequest runs the proportional calculator and applies the elevated
// leverage on the follower. A nil request with nil error means the
// calculator rejected (skip).
func (e *Engine) buildOpenRequest(ctx context.Context, adapter core.IExchangeAdapter, event *core.LeaderEvent, leaderEquity, followerEquity decimal.Decimal) (*core.OrderRequest, error) {
	limits, err := adapter.GetMarketLimits(ctx, event.Symbol)
	if err != nil {
		return nil, fmt.Errorf("market limits read failed: %w", err)
	}
	ticker, err := adapter.GetTicker(ctx, event.Symbol)
	if err != nil {
		return nil, fmt.Errorf("ticker read failed: %w", err)
	}

	leaderLeverage := event.Position.Leverage
	if event.Order.Details != nil && event.Order.Details.Leverage.IsPositive() {
		leaderLeverage = event.Order.Details.Leverage
	}

	// A ticker without a usable price falls back to the leader position's
	// mark before the calculator rejects.
	price := ticker.Price()
	if !price.IsPositive() {
		price = event.Position.MarkPrice
	}

	plan, reason := sizing.Compute(sizing.Inputs{
		LeaderPosition: event.Position,
		LeaderEquity:   leaderEquity,
		FollowerEquity: followerEquity,
		LeaderLeverage: leaderLeverage,
		Limits:         limits,
		Price:          price,
	}, e.params)
	if plan == nil {
		e.logger.Debug("calculator rejected follower open",
			"symbol", event.Symbol, "user_id", adapter.UserID(), "reason", reason)
		return nil, nil
	}

	if err := adapter.SetLeverage(ctx, event.Symbol, plan.Leverage, core.MarginIsolated); err != nil {
		return nil, fmt.Errorf("set leverage failed: %w", err)
	}

	return &core.OrderRequest{
		Symbol: event.Symbol,
		Type:   core.OrderTypeMarket,
		Side:   event.Order.Side,
		Amount: plan.Amount,
		Details: &core.CommandDetails{
			Action:   core.Action(event.Order.Side),
			Leverage: decimal.NewFromInt(int64(plan.Leverage)),
			Amount:   plan.Amount,
		},
	}, nil
}
