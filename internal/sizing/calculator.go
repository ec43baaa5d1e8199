// Package sizing computes follower order amounts. A follower mirrors the
// leader's margin exposure relative to its own equity, lifted to the venue's
// lot and notional minimums and kept inside the follower's budget by
// elevating leverage when necessary.
package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"copytrader/internal/config"
	"copytrader/internal/core"
)

// Buffers applied when lifting an amount to the venue cost minimum. Venues
// enforce the minimum against post-fee notional, so landing exactly on the
// boundary produces reject loops.
var (
	costBufferOpen   = decimal.NewFromFloat(1.01)
	costBufferSizing = decimal.NewFromFloat(1.05)
)

// Params are the tunables of the proportional sizing algorithm.
type Params struct {
	BudgetUsage      decimal.Decimal // fraction of follower equity usable as margin
	MaxLeverage      int             // hard cap on elevated leverage
	LeverageHeadroom int             // margin over the minimum feasible leverage
	MinEquityUSDT    decimal.Decimal // equity at or below this is not tradable
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		BudgetUsage:      decimal.NewFromFloat(0.90),
		MaxLeverage:      50,
		LeverageHeadroom: 2,
		MinEquityUSDT:    decimal.NewFromInt(1),
	}
}

// ParamsFromConfig converts the yaml replication settings. Zero fields keep
// the defaults.
func ParamsFromConfig(cfg *config.ReplicationConfig) Params {
	p := DefaultParams()
	if cfg == nil {
		return p
	}
	if cfg.BudgetUsage > 0 {
		p.BudgetUsage = decimal.NewFromFloat(cfg.BudgetUsage)
	}
	if cfg.MaxLeverage > 0 {
		p.MaxLeverage = cfg.MaxLeverage
	}
	if cfg.LeverageHeadroom > 0 {
		p.LeverageHeadroom = cfg.LeverageHeadroom
	}
	if cfg.MinEquityUSDT > 0 {
		p.MinEquityUSDT = decimal.NewFromFloat(cfg.MinEquityUSDT)
	}
	return p
}

// Inputs collect everything Compute needs. LeaderLeverage is the leader's
// intended leverage recovered from the order's command details; the position
// report's effective leverage is only a fallback.
type Inputs struct {
	LeaderPosition *core.Position
	LeaderEquity   decimal.Decimal
	FollowerEquity decimal.Decimal
	LeaderLeverage decimal.Decimal
	Limits         *core.MarketLimits
	Price          decimal.Decimal
}

// Plan is a sized follower order: the raw amount (pre-normalization) and the
// leverage to set before placing it.
type Plan struct {
	Amount   decimal.Decimal
	Leverage int
}

// Compute runs the proportional sizing algorithm. On rejection it returns a
// nil plan and the reason; it never partially commits.
func Compute(in Inputs, p Params) (*Plan, string) {
	if in.LeaderEquity.LessThanOrEqual(p.MinEquityUSDT) {
		return nil, "leader equity too low"
	}
	if in.FollowerEquity.LessThanOrEqual(p.MinEquityUSDT) {
		return nil, "follower equity too low"
	}
	if in.LeaderPosition == nil || !in.LeaderPosition.Contracts.IsPositive() {
		return nil, "leader position empty"
	}
	if in.Limits == nil {
		return nil, "market limits unavailable"
	}
	if !in.Price.IsPositive() {
		return nil, "price unavailable"
	}

	leverage := in.LeaderLeverage
	if !leverage.IsPositive() {
		leverage = in.LeaderPosition.Leverage
	}
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}

	// Proportional amount: mirror the leader's margin-to-equity ratio at the
	// leader's intended leverage.
	leaderNotional := in.LeaderPosition.Notional()
	leaderMargin := leaderNotional.Div(leverage)
	marginRatio := leaderMargin.Div(in.LeaderEquity)
	followerMargin := in.FollowerEquity.Mul(marginRatio)
	followerNotional := followerMargin.Mul(leverage)
	amount := followerNotional.Div(in.Price)

	// Lift to venue minimums.
	if in.Limits.MinAmount.IsPositive() && amount.LessThan(in.Limits.MinAmount) {
		amount = in.Limits.MinAmount
	}
	if in.Limits.MinCost.IsPositive() && amount.Mul(in.Price).LessThan(in.Limits.MinCost) {
		amount = in.Limits.MinCost.Div(in.Price).Mul(costBufferSizing)
	}

	// Budget feasibility, elevating leverage when the lifted amount no
	// longer fits at the leader's leverage.
	budget := in.FollowerEquity.Mul(p.BudgetUsage)
	notional := amount.Mul(in.Price)
	effective := int(leverage.IntPart())
	if effective < 1 {
		effective = 1
	}

	if notional.Div(leverage).GreaterThan(budget) {
		minLeverage := notional.Div(budget)
		if minLeverage.GreaterThan(decimal.NewFromInt(int64(p.MaxLeverage))) {
			return nil, fmt.Sprintf("needs leverage %s above cap %d", minLeverage.StringFixed(2), p.MaxLeverage)
		}
		effective = int(minLeverage.IntPart()) + p.LeverageHeadroom
		if effective > p.MaxLeverage {
			effective = p.MaxLeverage
		}
	}
	if effective < 1 {
		effective = 1
	}

	// Final gate: the lifted amount must fit the budget at the effective
	// leverage.
	if notional.Div(decimal.NewFromInt(int64(effective))).GreaterThan(budget) {
		return nil, "required margin exceeds budget after elevation"
	}

	return &Plan{Amount: amount, Leverage: effective}, ""
}

// AdjustAmountForLimits lifts an order amount to the venue lot and cost
// minimums and normalizes it to a placeable value. Used on the leader open
// path, with a tighter buffer than the proportional-sizing path.
func AdjustAmountForLimits(ctx context.Context, adapter core.IExchangeAdapter, sym string, amount decimal.Decimal) (decimal.Decimal, error) {
	limits, err := adapter.GetMarketLimits(ctx, sym)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read market limits for %s: %w", sym, err)
	}

	ticker, err := adapter.GetTicker(ctx, sym)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ticker for %s: %w", sym, err)
	}
	price := ticker.Price()
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no usable price for %s", sym)
	}

	effective := amount
	if limits.MinAmount.IsPositive() && effective.LessThan(limits.MinAmount) {
		effective = limits.MinAmount
	}
	if limits.MinCost.IsPositive() && effective.Mul(price).LessThan(limits.MinCost) {
		effective = limits.MinCost.Div(price).Mul(costBufferOpen)
	}

	return adapter.NormalizeAmount(ctx, sym, effective)
}
