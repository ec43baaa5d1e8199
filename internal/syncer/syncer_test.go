package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/config"
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
}

func (f *fakeResolver) Leader(ctx context.Context) (core.IExchangeAdapter, error) {
	if f.leader == nil {
		return nil, errors.New("leader not configured")
	}
	return f.leader, nil
}

func (f *fakeResolver) Get(ctx context.Context, desc *core.AccountDescriptor) (core.IExchangeAdapter, error) {
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

type fixture struct {
	leader   *mock.Adapter
	resolver *fakeResolver
	source   *fakeSource
	cfg      config.SyncConfig
}

func newFixture(t *testing.T, followerIDs ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	leader := mock.NewAdapter("mock", "leader-1")
	require.NoError(t, leader.Connect(ctx))
	leader.SetAccountValue(d("10000"))

	f := &fixture{
		leader:   leader,
		resolver: &fakeResolver{leader: leader, adapters: make(map[string]core.IExchangeAdapter)},
		source:   &fakeSource{},
		cfg: config.SyncConfig{
			Enabled:            true,
			IntervalSeconds:    20,
			MaxPriceDriftPct:   0.75,
			MaxPositionAgeMins: 30,
		},
	}
	for _, id := range followerIDs {
		a := mock.NewAdapter("mock", id)
		require.NoError(t, a.Connect(ctx))
		f.resolver.adapters[id] = a
		f.source.followers = append(f.source.followers, core.AccountDescriptor{
			UserID: id, ExchangeID: "mock", CopyEnabled: true,
		})
	}
	return f
}

func (f *fixture) syncer() *Syncer {
	return New(f.resolver, f.source, sizing.DefaultParams(), f.cfg, nil, logging.NewNopLogger())
}

func (f *fixture) follower(id string) *mock.Adapter {
	return f.resolver.adapters[id].(*mock.Adapter)
}

// streamingAdapter is a mock leader whose venue pushes mark prices.
type streamingAdapter struct {
	*mock.Adapter
	mark decimal.Decimal
	subs []string
}

func (s *streamingAdapter) StartMarkPriceStream(ctx context.Context, symbol string, callback func(mark decimal.Decimal, timestampMS int64)) {
	s.subs = append(s.subs, symbol)
	callback(s.mark, time.Now().UnixMilli())
}

func position(symbol string, side core.PositionSide, contracts, entry string) *core.Position {
	return &core.Position{
		Symbol:     symbol,
		Side:       side,
		Contracts:  d(contracts),
		EntryPrice: d(entry),
		MarkPrice:  d(entry),
		Leverage:   d("5"),
	}
}

func TestRunOnce_ClosesOrphans(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.leader.SetPosition(position("ETH/USDT", core.PositionLong, "10", "2000"))

	fw := f.follower("follower-1")
	fw.SetPosition(position("ETH/USDT", core.PositionLong, "1", "2000"))
	fw.SetPosition(position("DOGE/USDT", core.PositionShort, "5000", "0.1"))

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleSuccess, report.Outcome)
	require.Len(t, report.Followers, 1)
	assert.Equal(t, []string{"DOGE/USDT"}, report.Followers[0].OrphansClosed)

	reqs := fw.PlacedRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "DOGE/USDT", reqs[0].Symbol)
	assert.Equal(t, core.SideBuy, reqs[0].Side, "closing a short buys")
	assert.True(t, reqs[0].ReduceOnly)
	assert.True(t, reqs[0].Amount.Equal(d("5000")))

	// The shared ETH position must be untouched.
	eth := fw.PositionFor("ETH/USDT")
	require.NotNil(t, eth)
	assert.True(t, eth.Contracts.Equal(d("1")))
	assert.Nil(t, fw.PositionFor("DOGE/USDT"))
}

func TestRunOnce_LateJoinDeniedByDrift(t *testing.T) {
	f := newFixture(t, "follower-1")
	pos := position("BTC/USDT", core.PositionLong, "1", "30000")
	pos.TimestampMS = time.Now().Add(-2 * time.Minute).UnixMilli()
	f.leader.SetPosition(pos)

	// 30250 vs entry 30000 is 0.83% drift, past the 0.75% gate.
	fw := f.follower("follower-1")
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30250")})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Followers[0].LateJoins)
	assert.Empty(t, report.Followers[0].Errors)
	assert.Empty(t, fw.PlacedRequests())
	assert.Empty(t, fw.LeverageCalls())
}

func TestRunOnce_LateJoinDeniedByAge(t *testing.T) {
	f := newFixture(t, "follower-1")
	pos := position("BTC/USDT", core.PositionLong, "1", "30000")
	pos.TimestampMS = time.Now().Add(-45 * time.Minute).UnixMilli()
	f.leader.SetPosition(pos)

	fw := f.follower("follower-1")
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Followers[0].LateJoins)
	assert.Empty(t, fw.PlacedRequests())
}

func TestRunOnce_LateJoinAdmitted(t *testing.T) {
	f := newFixture(t, "follower-1")
	pos := position("BTC/USDT", core.PositionLong, "1", "30000")
	pos.TimestampMS = time.Now().Add(-2 * time.Minute).UnixMilli()
	f.leader.SetPosition(pos)

	fw := f.follower("follower-1")
	fw.SetAccountValue(d("1000"))
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Followers[0].Errors)
	assert.Equal(t, []string{"BTC/USDT"}, report.Followers[0].LateJoins)

	calls := fw.LeverageCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, 5, calls[0].Leverage)

	reqs := fw.PlacedRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, core.SideBuy, reqs[0].Side)
	assert.False(t, reqs[0].ReduceOnly)
	assert.True(t, reqs[0].Amount.Equal(d("0.1")), "amount = %s", reqs[0].Amount)
}

func TestRunOnce_StreamedMarkDrivesDriftGate(t *testing.T) {
	f := newFixture(t, "follower-1")

	// The venue stream reports a mark 1% off the entry; the slower REST
	// ticker still reads the entry price and would admit the late join.
	leader := &streamingAdapter{Adapter: f.leader, mark: d("30300")}
	f.resolver.leader = leader
	f.leader.SetPosition(position("BTC/USDT", core.PositionLong, "1", "30000"))

	fw := f.follower("follower-1")
	fw.SetAccountValue(d("1000"))
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})

	s := f.syncer()
	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Followers, 1)
	assert.Empty(t, report.Followers[0].LateJoins)
	assert.Empty(t, fw.PlacedRequests())

	// One subscription per leader symbol, not one per cycle.
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT"}, leader.subs)
}

func TestRunOnce_LateJoinWithoutTimestampSkipsAgeGate(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.leader.SetPosition(position("BTC/USDT", core.PositionLong, "1", "30000"))

	fw := f.follower("follower-1")
	fw.SetAccountValue(d("1000"))
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT"}, report.Followers[0].LateJoins)
}

func TestRunOnce_UnreadableTickerRejectsConservatively(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.leader.SetPosition(position("BTC/USDT", core.PositionLong, "1", "30000"))
	// No ticker installed on the follower: the gate must reject, not error.

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Followers[0].LateJoins)
	assert.Empty(t, report.Followers[0].Errors)
	assert.Empty(t, f.follower("follower-1").PlacedRequests())
}

func TestRunOnce_SkipsCycleOnLeaderEquityFailure(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.leader.SetAccountError(errors.New("balance endpoint down"))
	f.follower("follower-1").SetPosition(position("DOGE/USDT", core.PositionShort, "100", "0.1"))

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleSkipped, report.Outcome)
	assert.Empty(t, f.follower("follower-1").PlacedRequests(), "no orders on a skipped cycle")
}

func TestRunOnce_SkipsLowEquityFollower(t *testing.T) {
	f := newFixture(t, "follower-1")
	fw := f.follower("follower-1")
	fw.SetAccountValue(d("0.5"))
	fw.SetPosition(position("DOGE/USDT", core.PositionShort, "100", "0.1"))

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Followers[0].Skipped)
	assert.Empty(t, fw.PlacedRequests())
}

func TestRunOnce_DryRunPlacesNothing(t *testing.T) {
	f := newFixture(t, "follower-1")
	f.cfg.DryRun = true
	f.leader.SetPosition(position("BTC/USDT", core.PositionLong, "1", "30000"))

	fw := f.follower("follower-1")
	fw.SetAccountValue(d("1000"))
	fw.SetTicker(&core.Ticker{Symbol: "BTC/USDT", Last: d("30000")})
	fw.SetLimits("BTC/USDT", &core.MarketLimits{MinAmount: d("0.001"), MinCost: d("5")})
	fw.SetPosition(position("DOGE/USDT", core.PositionShort, "100", "0.1"))

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DOGE/USDT"}, report.Followers[0].OrphansClosed)
	assert.Equal(t, []string{"BTC/USDT"}, report.Followers[0].LateJoins)
	assert.Empty(t, fw.PlacedRequests())
	assert.Empty(t, fw.LeverageCalls())
}

func TestRunOnce_FollowerFailureIsIsolated(t *testing.T) {
	f := newFixture(t, "follower-1", "follower-2")
	f.follower("follower-1").SetAccountError(errors.New("auth revoked"))
	f.follower("follower-2").SetPosition(position("DOGE/USDT", core.PositionShort, "100", "0.1"))

	report, err := f.syncer().RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Followers, 2)

	byUser := make(map[string]FollowerReport)
	for _, r := range report.Followers {
		byUser[r.UserID] = r
	}
	assert.True(t, byUser["follower-1"].Skipped)
	assert.Equal(t, []string{"DOGE/USDT"}, byUser["follower-2"].OrphansClosed)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	s := f.syncer()
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}
