package replicate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/core"
	"copytrader/internal/mock"
	"copytrader/internal/sizing"
	"copytrader/pkg/logging"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeResolver struct {
	leader   core.IExchangeAdapter
	adapters map[string]core.IExchangeAdapter
	getErr   map[string]error
}

func (f *fakeResolver) Leader(ctx context.Context) (core.IExchangeAdapter, error) {
	if f.leader == nil {
		return nil, errors.New("leader not configured")
	}
	return f.leader, nil
}

func (f *fakeResolver) Get(ctx context.Context, desc *core.AccountDescriptor) (core.IExchangeAdapter, error) {
	if err := f.getErr[desc.UserID]; err != nil {
		return nil, err
	}
	a, ok := f.adapters[desc.UserID]
	if !ok {
		return nil, fmt.Errorf("no adapter for %s", desc.UserID)
	}
	return a, nil
}

type fakeSource struct {
	followers []core.AccountDescriptor
	err       error
}

func (f *fakeSource) LoadFollowers(requireCopyEnabled bool) ([]core.AccountDescriptor, error) {
	return f.followers, f.err
}

// fixture wires a connected leader plus any number of connected followers
// through fake resolver and source implementations.
type fixture struct {
	leader   *mock.Adapter
	resolver *fakeResolver
	source   *fakeSource
	engine   *Engine
}

func newFixture(t *testing.T, followerIDs ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	leader := mock.NewAdapter("mock", "leader-1")
	require.NoError(t, leader.Connect(ctx))
	leader.SetAccountValue(d("10000"))

	f := &fixture{
		leader: leader,
		resolver: &fakeResolver{
			leader:   leader,
			adapters: make(map[string]core.IExchangeAdapter),
			getErr:   make(map[string]error),
		},
		source: &fakeSource{},
	}
	for _, id := range followerIDs {
		a := mock.NewAdapter("mock", id)
		require.NoError(t, a.Connect(ctx))
		f.resolver.adapters[id] = a
		f.source.followers = append(f.source.followers, core.AccountDescriptor{
			UserID: id, ExchangeID: "mock", CopyEnabled: true,
		})
	}
	f.engine = NewEngine(f.resolver, f.source, sizing.DefaultParams(), logging.NewNopLogger())
	return f
}

func (f *fixture) follower(id string) *mock.Adapter {
	return f.resolver.adapters[id].(*mock.Adapter)
}

func btcPosition(side core.PositionSide, contracts, entry, leverage string) *core.Position {
	return &core.Position{
		Symbol:     "BTC/USDT",
		Side:       side,
		Contracts:  d(contracts),
		EntryPrice: d(entry),
		MarkPrice:  d(entry),
		Leverage:   d(leverage),
	}
}

func marketFill(side core.OrderSide, amount string, reduceOnly bool) *core.Order {
	return &core.Order{
		ID:         "1",
		Symbol:     "BTC/USDT",
		Side:       side,
		Type:       core.OrderTypeMarket,
		Amount:     d(amount),
		Filled:     d(amount),
		Status:     core.OrderStatusClosed,
		ReduceOnly: reduceOnly,
		ExchangeID: "mock",
	}
}

func TestBuildLeaderEvent(t *testing.T) {
	pos := btcPosition(core.PositionLong, "3", "30000", "5")

	t.Run("open", func(t *testing.T) {
		ev := BuildLeaderEvent(marketFill(core.SideBuy, "1", false), pos)
		require.NotNil(t, ev)
		assert.Equal(t, core.EventOpen, ev.Kind)
		assert.Equal(t, pos, ev.Position)
	})

	t.Run("partial close", func(t *testing.T) {
		ev := BuildLeaderEvent(marketFill(core.SideSell, "1", true), pos)
		require.NotNil(t, ev)
		assert.Equal(t, core.EventPartialClose, ev.Kind)
		// 1 filled against 3 remaining: a quarter of the original 4.
		assert.True(t, ev.CloseFraction().Equal(d("0.25")),
			"close fraction = %s", ev.CloseFraction())
	})

	t.Run("full close", func(t *testing.T) {
		ev := BuildLeaderEvent(marketFill(core.SideSell, "2", true), nil)
		require.NotNil(t, ev)
		assert.Equal(t, core.EventFullClose, ev.Kind)
		assert.True(t, ev.ClosedContracts.Equal(d("2")))
		assert.Equal(t, core.PositionLong, ev.ClosedSide)
	})

	t.Run("full close of a short", func(t *testing.T) {
		ev := BuildLeaderEvent(marketFill(core.SideBuy, "2", true), nil)
		require.NotNil(t, ev)
		assert.Equal(t, core.EventFullClose, ev.Kind)
		assert.Equal(t, core.PositionShort, ev.ClosedSide)
	})

	t.Run("no position and not reduce-only is uninterpretable", func(t *testing.T) {
		assert.Nil(t, BuildLeaderEvent(marketFill(core.SideBuy, "1", false), nil))
	})

	t.Run("full close falls back to amount when unfilled", func(t *testing.T) {
		order := marketFill(core.SideSell, "2", true)
		order.Filled = decimal.Zero
		ev := BuildLeaderEvent(order, nil)
		require.NotNil(t, ev)
		assert.True(t, ev.ClosedContracts.Equal(d("2")))
	})
}

func TestReplicate_ProportionalOpenFanOut(t *testing.T) {
	f := newFixture(t, "follower-1", "follower-2")
	ctx := context.Background()

	f.leader.SetPosition(btcPosition(core.PositionLong, "1", "30000", "5"))
	for _, id := range []string{"follower-1", "follower-2"} {
		fw := f.follower(id)
		fw.SetAccountValue(d("1000"))
		fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})
		fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})
	}

	order := marketFill(core.SideBuy, "1", false)
	order.Details = &core.CommandDetails{Action: core.ActionBuy, Leverage: d("5"), Amount: d("1")}

	summary, err := f.engine.Replicate(ctx, f.leader, order)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Successful)

	for _, id := range []string{"follower-1", "follower-2"} {
		fw := f.follower(id)
		calls := fw.LeverageCalls()
		require.Len(t, calls, 1, "follower %s leverage calls", id)
		assert.Equal(t, 5, calls[0].Leverage)
		assert.Equal(t, core.MarginIsolated, calls[0].Mode)

		reqs := fw.PlacedRequests()
		require.Len(t, reqs, 1, "follower %s orders", id)
		assert.Equal(t, core.SideBuy, reqs[0].Side)
		assert.Equal(t, core.OrderTypeMarket, reqs[0].Type)
		assert.True(t, reqs[0].Amount.Equal(d("0.1")), "amount = %s", reqs[0].Amount)
		assert.False(t, reqs[0].ReduceOnly)
	}
}

func TestReplicate_TickerWithoutPriceFallsBackToLeaderMark(t *testing.T) {
	f := newFixture(t, "follower-1")
	ctx := context.Background()

	f.leader.SetPosition(btcPosition(core.PositionLong, "1", "30000", "5"))
	fw := f.follower("follower-1")
	fw.SetAccountValue(d("1000"))
	// The ticker exists but carries no usable price; sizing uses the leader
	// position's mark instead of rejecting the follower.
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT"})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})

	order := marketFill(core.SideBuy, "1", false)
	order.Details = &core.CommandDetails{Action: core.ActionBuy, Leverage: d("5"), Amount: d("1")}

	summary, err := f.engine.Replicate(ctx, f.leader, order)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)

	reqs := fw.PlacedRequests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Amount.Equal(d("0.1")), "amount = %s", reqs[0].Amount)
}

func TestReplicate_FullCloseFlattensFollower(t *testing.T) {
	f := newFixture(t, "follower-1")
	ctx := context.Background()

	// Leader already flat after the fill; follower still holds 0.15 long.
	fw := f.follower("follower-1")
	fw.SetPosition(btcPosition(core.PositionLong, "0.15", "29500", "5"))

	summary, err := f.engine.Replicate(ctx, f.leader, marketFill(core.SideSell, "2", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)

	reqs := fw.PlacedRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, core.SideSell, reqs[0].Side)
	assert.True(t, reqs[0].ReduceOnly)
	assert.True(t, reqs[0].Amount.Equal(d("0.15")), "amount = %s", reqs[0].Amount)
	assert.Nil(t, fw.PositionFor("BTC/USDT"), "follower position must be flat")
}

func TestReplicate_PartialCloseIsProportional(t *testing.T) {
	f := newFixture(t, "follower-1")
	ctx := context.Background()

	// Leader sold 1 of 4, leaving 3. Follower holds 0.4 and sells a quarter.
	f.leader.SetPosition(btcPosition(core.PositionLong, "3", "30000", "5"))
	fw := f.follower("follower-1")
	fw.SetPosition(btcPosition(core.PositionLong, "0.4", "30000", "5"))

	summary, err := f.engine.Replicate(ctx, f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)

	reqs := fw.PlacedRequests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].ReduceOnly)
	assert.True(t, reqs[0].Amount.Equal(d("0.1")), "amount = %s", reqs[0].Amount)

	remaining := fw.PositionFor("BTC/USDT")
	require.NotNil(t, remaining)
	assert.True(t, remaining.Contracts.Equal(d("0.3")), "remaining = %s", remaining.Contracts)
}

func TestReplicate_FollowerFailureIsIsolated(t *testing.T) {
	f := newFixture(t, "follower-1", "follower-2")
	ctx := context.Background()

	f.follower("follower-1").SetPosition(btcPosition(core.PositionLong, "0.2", "30000", "5"))
	f.follower("follower-2").SetPosition(btcPosition(core.PositionLong, "0.3", "30000", "5"))
	f.follower("follower-2").SetPlaceError(errors.New("connection reset"))

	summary, err := f.engine.Replicate(ctx, f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, f.follower("follower-1").PlacedRequests(), 1,
		"healthy follower must still trade")
	for _, detail := range summary.Details {
		if detail.UserID == "follower-2" {
			assert.Equal(t, StatusFailed, detail.Status)
			assert.Contains(t, detail.Reason, "connection reset")
		}
	}
}

func TestReplicate_AdapterUnavailableIsFailed(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.resolver.getErr["follower-1"] = errors.New("credentials revoked")
	f.follower("follower-1").SetPosition(btcPosition(core.PositionLong, "0.2", "30000", "5"))

	summary, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Details[0].Reason, "adapter unavailable")
}

func TestReplicate_LowEquityFollowerSkipped(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.follower("follower-1").SetAccountValue(d("0.5"))

	summary, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, f.follower("follower-1").PlacedRequests())
}

func TestReplicate_CloseWithoutFollowerPositionSkips(t *testing.T) {
	f := newFixture(t, "follower-1")

	summary, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, f.follower("follower-1").PlacedRequests())
}

func TestReplicate_CalculatorRejectionSkips(t *testing.T) {
	f := newFixture(t, "follower-1")
	ctx := context.Background()

	// A tiny follower against a huge minimum cost: the elevated leverage
	// would exceed the cap, so the calculator rejects the open.
	f.leader.SetPosition(btcPosition(core.PositionLong, "1", "30000", "5"))
	fw := f.follower("follower-1")
	fw.SetAccountValue(d("2"))
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.0001"), MinCost: d("100")})

	summary, err := f.engine.Replicate(ctx, f.leader, marketFill(core.SideBuy, "1", false))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, fw.PlacedRequests())
	assert.Empty(t, fw.LeverageCalls())
}

func TestReplicate_LeaderEquityTooLow(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.leader.SetAccountValue(d("0.5"))

	_, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideBuy, "1", false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader equity")
}

func TestReplicate_UninterpretableFillDoesNothing(t *testing.T) {
	f := newFixture(t, "follower-1")

	// Not reduce-only and no leader position: leave it to reconciliation.
	summary, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideBuy, "1", false))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, f.follower("follower-1").PlacedRequests())
}

func TestReplicate_LeaderNeverReplicatesOntoItself(t *testing.T) {
	f := newFixture(t)
	f.source.followers = []core.AccountDescriptor{
		{UserID: "leader-1", ExchangeID: "mock", CopyEnabled: true},
	}

	summary, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, f.leader.PlacedRequests())
}

func TestReplicate_FailedFollowerOrderReported(t *testing.T) {
	f := newFixture(t, "follower-1")
	fw := f.follower("follower-1")
	fw.SetPosition(btcPosition(core.PositionLong, "0.2", "30000", "5"))
	fw.FailNextOrder("insufficient margin")

	summary, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideSell, "1", true))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "insufficient margin", summary.Details[0].Reason)
	require.NotNil(t, summary.Details[0].Order)
	assert.Equal(t, core.OrderStatusFailed, summary.Details[0].Order.Status)
}

func TestReplicate_LoadFollowersFailure(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("store locked")

	_, err := f.engine.Replicate(context.Background(), f.leader, marketFill(core.SideBuy, "1", false))
	require.Error(t, err)
}
