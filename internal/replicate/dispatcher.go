package replicate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"copytrader/internal/alert"
	"copytrader/internal/core"
	"copytrader/internal/sizing"
	"copytrader/internal/symbol"
	"copytrader/pkg/telemetry"
)

// Result is the composite outcome of one leader command: the leader-side
// order (when the action produced one) and the replication summary (when the
// fill was mirrored to followers).
type Result struct {
	Status      string      `json:"status"`
	Message     string      `json:"message,omitempty"`
	LeaderOrder *core.Order `json:"leader_order,omitempty"`
	Replication *Summary    `json:"replication,omitempty"`
}

func failed(msg string) *Result {
	return &Result{Status: StatusFailed, Message: msg}
}

// Dispatcher executes leader commands serially against the leader adapter
// and hands successful market fills to the replication engine. Limit and
// stop orders are placed but not replicated; their fills would need a fill
// stream.
type Dispatcher struct {
	registry AdapterResolver
	engine   *Engine
	alerts   *alert.Manager
	logger   core.ILogger
}

// NewDispatcher wires a dispatcher over the shared registry and engine.
func NewDispatcher(registry AdapterResolver, engine *Engine, logger core.ILogger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		engine:   engine,
		logger:   logger.WithField("component", "dispatch"),
	}
}

// WithAlerts attaches an operator notification manager.
func (d *Dispatcher) WithAlerts(m *alert.Manager) *Dispatcher {
	d.alerts = m
	return d
}

// Execute runs one leader command to completion. It never panics out: any
// failure is folded into the result.
func (d *Dispatcher) Execute(ctx context.Context, cmd *core.Command) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Sprintf("panic: %v", r))
			d.logger.Error("command handler panicked", "action", cmd.Action, "panic", r)
		}
		telemetry.GetGlobalMetrics().IncCommand(ctx, string(cmd.Action), result.Status)
	}()

	cmd.Symbol = symbol.Canonical(cmd.Symbol)
	if cmd.Symbol == "" {
		return failed("symbol is required")
	}

	leader, err := d.registry.Leader(ctx)
	if err != nil {
		d.logger.Error("leader adapter unavailable", "error", err)
		return failed(fmt.Sprintf("leader adapter unavailable: %v", err))
	}

	d.logger.Info("executing command", "action", cmd.Action, "symbol", cmd.Symbol)

	switch cmd.Action {
	case core.ActionBuy, core.ActionSell:
		return d.handleOpen(ctx, leader, cmd)
	case core.ActionClosePosition:
		return d.handleClosePosition(ctx, leader, cmd)
	case core.ActionScaleOut:
		return d.handleScaleOut(ctx, leader, cmd)
	case core.ActionScaleIn:
		return d.handleScaleIn(ctx, leader, cmd)
	case core.ActionSetLeverage:
		return d.handleSetLeverage(ctx, leader, cmd)
	case core.ActionCancel:
		return d.handleCancel(ctx, leader, cmd)
	default:
		return failed(fmt.Sprintf("unsupported action: %s", cmd.Action))
	}
}

// handleOpen places a leader open/increase order. Leverage must stick before
// any order goes out; a leverage failure yields a synthetic failed order.
func (d *Dispatcher) handleOpen(ctx context.Context, leader core.IExchangeAdapter, cmd *core.Command) *Result {
	side := core.SideBuy
	if cmd.Action == core.ActionSell {
		side = core.SideSell
	}
	if !cmd.Amount.IsPositive() {
		return failed("amount must be positive")
	}

	leverage := cmd.Leverage
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	mode := cmd.MarginMode
	if mode == "" {
		mode = core.MarginIsolated
	}

	orderType := cmd.OrderType
	if orderType == "" {
		orderType = core.OrderTypeMarket
	}
	if cmd.PostOnly {
		orderType = core.OrderTypePostOnly
	}

	if err := leader.SetLeverage(ctx, cmd.Symbol, int(leverage.IntPart()), mode); err != nil {
		d.logger.Error("leader set_leverage failed, aborting open",
			"symbol", cmd.Symbol, "leverage", leverage, "error", err)
		order := core.FailedOrder(cmd.Symbol, side, orderType, cmd.Amount, leader.Name(),
			fmt.Sprintf("set_leverage failed: %v", err))
		return &Result{Status: StatusFailed, Message: order.ErrorMessage, LeaderOrder: order}
	}

	amount, err := sizing.AdjustAmountForLimits(ctx, leader, cmd.Symbol, cmd.Amount)
	if err != nil {
		return failed(fmt.Sprintf("amount adjustment failed: %v", err))
	}
	if !amount.IsPositive() {
		return failed("adjusted amount rounds to zero")
	}

	// Record the leader's intent so followers can size against the
	// requested leverage rather than the venue-reported one.
	details := &core.CommandDetails{Action: cmd.Action, Leverage: leverage, Amount: amount}

	order, err := leader.PlaceOrder(ctx, &core.OrderRequest{
		Symbol:    cmd.Symbol,
		Type:      orderType,
		Side:      side,
		Amount:    amount,
		Price:     cmd.Price,
		StopPrice: cmd.StopPrice,
		Details:   details,
	})
	if err != nil {
		return failed(fmt.Sprintf("leader order failed: %v", err))
	}
	return d.finishOrder(ctx, leader, order)
}

func (d *Dispatcher) handleClosePosition(ctx context.Context, leader core.IExchangeAdapter, cmd *core.Command) *Result {
	pos, res := d.leaderPosition(ctx, leader, cmd.Symbol)
	if res != nil {
		return res
	}

	order, err := leader.PlaceOrder(ctx, &core.OrderRequest{
		Symbol:     cmd.Symbol,
		Type:       core.OrderTypeMarket,
		Side:       pos.Side.CloseSide(),
		Amount:     pos.Contracts,
		ReduceOnly: true,
	})
	if err != nil {
		return failed(fmt.Sprintf("leader close failed: %v", err))
	}
	return d.finishOrder(ctx, leader, order)
}

func (d *Dispatcher) handleScaleOut(ctx context.Context, leader core.IExchangeAdapter, cmd *core.Command) *Result {
	pos, res := d.leaderPosition(ctx, leader, cmd.Symbol)
	if res != nil {
		return res
	}

	amount := cmd.Amount
	if !amount.IsPositive() && cmd.Percentage.IsPositive() {
		amount = pos.Contracts.Mul(cmd.Percentage).Div(decimal.NewFromInt(100))
	}
	if !amount.IsPositive() {
		return failed("scale_out needs a positive amount or percentage")
	}

	adjusted, err := leader.NormalizeAmount(ctx, cmd.Symbol, amount)
	if err != nil {
		return failed(fmt.Sprintf("amount normalization failed: %v", err))
	}
	if !adjusted.IsPositive() {
		return failed("scale_out amount rounds to zero")
	}
	if adjusted.GreaterThan(pos.Contracts) {
		return failed(fmt.Sprintf("scale_out amount %s exceeds position %s", adjusted, pos.Contracts))
	}

	order, err := leader.PlaceOrder(ctx, &core.OrderRequest{
		Symbol:     cmd.Symbol,
		Type:       core.OrderTypeMarket,
		Side:       pos.Side.CloseSide(),
		Amount:     adjusted,
		ReduceOnly: true,
	})
	if err != nil {
		return failed(fmt.Sprintf("leader scale_out failed: %v", err))
	}
	return d.finishOrder(ctx, leader, order)
}

func (d *Dispatcher) handleScaleIn(ctx context.Context, leader core.IExchangeAdapter, cmd *core.Command) *Result {
	pos, res := d.leaderPosition(ctx, leader, cmd.Symbol)
	if res != nil {
		return res
	}
	if !cmd.Amount.IsPositive() {
		return failed("scale_in needs a positive amount")
	}

	side := pos.Side.OpenSide()
	if cmd.Side != "" && cmd.Side != side {
		return failed(fmt.Sprintf("scale_in side %s does not match %s position", cmd.Side, pos.Side))
	}

	amount, err := sizing.AdjustAmountForLimits(ctx, leader, cmd.Symbol, cmd.Amount)
	if err != nil {
		return failed(fmt.Sprintf("amount adjustment failed: %v", err))
	}

	leverage := cmd.Leverage
	if !leverage.IsPositive() {
		leverage = pos.Leverage
	}
	details := &core.CommandDetails{Action: cmd.Action, Leverage: leverage, Amount: amount}

	order, err := leader.PlaceOrder(ctx, &core.OrderRequest{
		Symbol:  cmd.Symbol,
		Type:    core.OrderTypeMarket,
		Side:    side,
		Amount:  amount,
		Details: details,
	})
	if err != nil {
		return failed(fmt.Sprintf("leader scale_in failed: %v", err))
	}
	return d.finishOrder(ctx, leader, order)
}

func (d *Dispatcher) handleSetLeverage(ctx context.Context, leader core.IExchangeAdapter, cmd *core.Command) *Result {
	if !cmd.Leverage.IsPositive() {
		return failed("set_leverage needs a positive leverage")
	}
	mode := cmd.MarginMode
	if mode == "" {
		mode = core.MarginIsolated
	}
	if err := leader.SetLeverage(ctx, cmd.Symbol, int(cmd.Leverage.IntPart()), mode); err != nil {
		return failed(fmt.Sprintf("set_leverage failed: %v", err))
	}
	return &Result{Status: StatusSuccess}
}

func (d *Dispatcher) handleCancel(ctx context.Context, leader core.IExchangeAdapter, cmd *core.Command) *Result {
	if cmd.OrderID == "" {
		return failed("cancel needs order_id and symbol")
	}
	if err := leader.CancelOrder(ctx, cmd.OrderID, cmd.Symbol); err != nil {
		return failed(fmt.Sprintf("cancel failed: %v", err))
	}
	return &Result{Status: StatusSuccess}
}

// leaderPosition fetches the single live leader position for a symbol. The
// second return value is non-nil when the caller should bail with it.
func (d *Dispatcher) leaderPosition(ctx context.Context, leader core.IExchangeAdapter, sym string) (*core.Position, *Result) {
	positions, err := leader.GetPositions(ctx, sym)
	if err != nil {
		return nil, failed(fmt.Sprintf("position read failed: %v", err))
	}
	pos := core.FindPosition(positions, sym)
	if pos == nil || !pos.Contracts.IsPositive() {
		return nil, failed(fmt.Sprintf("no open position for %s", sym))
	}
	return pos, nil
}

// finishOrder classifies the leader order and replicates market fills.
func (d *Dispatcher) finishOrder(ctx context.Context, leader core.IExchangeAdapter, order *core.Order) *Result {
	metrics := telemetry.GetGlobalMetrics()
	metrics.IncLeaderOrder(ctx, string(order.Status))

	if order.Status == core.OrderStatusFailed {
		d.alerts.Notify(ctx, alert.Error, "leader order rejected", order.ErrorMessage,
			map[string]string{"symbol": order.Symbol, "side": string(order.Side)})
		return &Result{Status: StatusFailed, Message: order.ErrorMessage, LeaderOrder: order}
	}
	if order.Type != core.OrderTypeMarket {
		d.logger.Info("non-market leader order placed, not replicated",
			"symbol", order.Symbol, "type", order.Type, "order_id", order.ID)
		return &Result{Status: StatusSuccess, LeaderOrder: order}
	}

	summary, err := d.engine.Replicate(ctx, leader, order)
	if err != nil {
		d.logger.Error("replication aborted", "symbol", order.Symbol, "error", err)
		d.alerts.Notify(ctx, alert.Critical, "replication aborted", err.Error(),
			map[string]string{"symbol": order.Symbol})
		return &Result{
			Status:      StatusSuccess,
			Message:     fmt.Sprintf("leader order placed, replication aborted: %v", err),
			LeaderOrder: order,
		}
	}
	if summary.Failed > 0 {
		d.alerts.Notify(ctx, alert.Error, "replication degraded",
			fmt.Sprintf("%d of %d followers failed", summary.Failed, summary.Total),
			map[string]string{"symbol": order.Symbol})
	}
	return &Result{Status: StatusSuccess, LeaderOrder: order, Replication: summary}
}
