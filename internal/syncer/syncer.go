// Package syncer runs the periodic reconciliation loop that repairs drift
// between the leader's position set and each follower's: orphaned follower
// positions are flattened and missed leader positions are joined late when
// the admission gates allow it.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"copytrader/internal/alert"
	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/sizing"
	"copytrader/pkg/concurrency"
	"copytrader/pkg/retry"
	"copytrader/pkg/telemetry"
)

// AdapterResolver yields connected adapters for account descriptors.
type AdapterResolver interface {
	Leader(ctx context.Context) (core.IExchangeAdapter, error)
	Get(ctx context.Context, desc *core.AccountDescriptor) (core.IExchangeAdapter, error)
}

// FollowerSource lists the replicable follower accounts.
type FollowerSource interface {
	LoadFollowers(requireCopyEnabled bool) ([]core.AccountDescriptor, error)
}

// markStreamer is implemented by adapters that can push mark price updates
// over a stream. The drift gate prefers streamed marks over REST reads.
type markStreamer interface {
	StartMarkPriceStream(ctx context.Context, symbol string, callback func(mark decimal.Decimal, timestampMS int64))
}

// markStaleAfter bounds how old a streamed mark may be before the drift
// gate falls back to a REST ticker read.
const markStaleAfter = 10 * time.Second

type markSample struct {
	price decimal.Decimal
	at    time.Time
}

// Cycle outcomes, also used as the sync_cycles metric label.
const (
	CycleSuccess = "success"
	CycleSkipped = "skipped"
	CycleFailed  = "failed"
)

// FollowerReport is the per-follower outcome of one cycle.
type FollowerReport struct {
	UserID        string   `json:"user_id"`
	Skipped       bool     `json:"skipped,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	OrphansClosed []string `json:"orphans_closed,omitempty"`
	LateJoins     []string `json:"late_joins,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// CycleReport aggregates one reconciliation pass.
type CycleReport struct {
	Outcome   string           `json:"outcome"`
	Followers []FollowerReport `json:"followers,omitempty"`
}

// Syncer owns the reconciliation loop. Construct with New, then Start; Stop
// waits for the in-flight cycle to finish.
type Syncer struct {
	registry AdapterResolver
	store    FollowerSource
	params   sizing.Params
	cfg      config.SyncConfig
	pool     *concurrency.WorkerPool
	alerts   *alert.Manager
	logger   core.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	markMu    sync.RWMutex
	marks     map[string]markSample
	streaming map[string]bool
}

// New builds a syncer. The worker pool bounds the per-cycle follower
// fan-out; pass nil to run followers sequentially.
func New(registry AdapterResolver, store FollowerSource, params sizing.Params, cfg config.SyncConfig, pool *concurrency.WorkerPool, logger core.ILogger) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		registry: registry,
		store:    store,
		params:   params,
		cfg:      cfg,
		pool:     pool,
		logger:   logger.WithField("component", "syncer"),
		ctx:      ctx,
		cancel:   cancel,

		marks:     make(map[string]markSample),
		streaming: make(map[string]bool),
	}
}

// WithAlerts attaches an operator notification manager.
func (s *Syncer) WithAlerts(m *alert.Manager) *Syncer {
	s.alerts = m
	return s
}

// Start launches the reconciliation loop.
func (s *Syncer) Start() error {
	s.logger.Info("starting sync loop",
		"interval_s", s.cfg.IntervalSeconds, "dry_run", s.cfg.DryRun)
	s.wg.Add(1)
	go s.runLoop()
	return nil
}

// Stop cancels the loop and waits for the current cycle to drain.
func (s *Syncer) Stop() error {
	s.logger.Info("stopping sync loop")
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Syncer) runLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, interval)
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sync cycle failed", "error", err)
			}
			cancel()
		}
	}
}

// RunOnce performs one reconciliation pass. Leader-side read failures abort
// the cycle; follower failures are contained in the report.
func (s *Syncer) RunOnce(ctx context.Context) (report *CycleReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if report != nil {
			telemetry.GetGlobalMetrics().IncSyncCycle(ctx, report.Outcome)
		}
	}()

	leader, err := s.registry.Leader(ctx)
	if err != nil {
		return &CycleReport{Outcome: CycleFailed}, fmt.Errorf("leader adapter unavailable: %w", err)
	}

	// Leader reads gate the whole cycle, so transient failures get retried
	// instead of skipping a full interval.
	var leaderEquity decimal.Decimal
	err = retry.Do(ctx, retry.DefaultPolicy, nil, func() error {
		var rerr error
		leaderEquity, rerr = leader.GetAccountValueUSDT(ctx)
		return rerr
	})
	if err != nil {
		s.logger.Warn("skipping cycle, leader equity unreadable", "error", err)
		return &CycleReport{Outcome: CycleSkipped}, nil
	}
	if leaderEquity.LessThanOrEqual(s.params.MinEquityUSDT) {
		s.logger.Warn("skipping cycle, leader equity too low", "equity", leaderEquity)
		return &CycleReport{Outcome: CycleSkipped}, nil
	}

	var leaderPositions []*core.Position
	err = retry.Do(ctx, retry.DefaultPolicy, nil, func() error {
		var rerr error
		leaderPositions, rerr = leader.GetPositions(ctx)
		return rerr
	})
	if err != nil {
		return &CycleReport{Outcome: CycleFailed}, fmt.Errorf("failed to read leader positions: %w", err)
	}
	leaderBySymbol := make(map[string]*core.Position, len(leaderPositions))
	for _, p := range leaderPositions {
		if p.Contracts.IsPositive() {
			leaderBySymbol[p.Symbol] = p
		}
	}
	s.ensureMarkStreams(leader, leaderBySymbol)

	followers, err := s.store.LoadFollowers(true)
	if err != nil {
		return &CycleReport{Outcome: CycleFailed}, fmt.Errorf("failed to load followers: %w", err)
	}
	active := followers[:0]
	for _, f := range followers {
		if f.UserID != leader.UserID() {
			active = append(active, f)
		}
	}

	reports := make([]FollowerReport, len(active))
	var wg sync.WaitGroup
	for i, desc := range active {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			reports[i] = s.syncFollower(ctx, leaderBySymbol, leaderEquity, desc)
		}
		if s.pool != nil {
			if perr := s.pool.Submit(task); perr != nil {
				wg.Done()
				reports[i] = FollowerReport{UserID: desc.UserID, Skipped: true, Reason: perr.Error()}
			}
		} else {
			task()
		}
	}
	wg.Wait()

	report = &CycleReport{Outcome: CycleSuccess, Followers: reports}
	s.logger.Debug("sync cycle complete",
		"followers", len(reports), "leader_positions", len(leaderBySymbol))
	return report, nil
}

func (s *Syncer) syncFollower(ctx context.Context, leaderBySymbol map[string]*core.Position, leaderEquity decimal.Decimal, desc core.AccountDescriptor) (report FollowerReport) {
	report = FollowerReport{UserID: desc.UserID}
	defer func() {
		if r := recover(); r != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("panic: %v", r))
			s.logger.Error("follower sync panicked", "user_id", desc.UserID, "panic", r)
		}
	}()

	adapter, err := s.registry.Get(ctx, &desc)
	if err != nil {
		report.Skipped = true
		report.Reason = fmt.Sprintf("adapter unavailable: %v", err)
		return report
	}

	equity, err := adapter.GetAccountValueUSDT(ctx)
	if err != nil {
		report.Skipped = true
		report.Reason = fmt.Sprintf("equity read failed: %v", err)
		return report
	}
	telemetry.GetGlobalMetrics().SetFollowerEquity(desc.UserID, equity.InexactFloat64())
	if equity.LessThanOrEqual(s.params.MinEquityUSDT) {
		report.Skipped = true
		report.Reason = fmt.Sprintf("equity %s at or below minimum", equity)
		return report
	}

	positions, err := adapter.GetPositions(ctx)
	if err != nil {
		report.Skipped = true
		report.Reason = fmt.Sprintf("position read failed: %v", err)
		return report
	}
	followerBySymbol := make(map[string]*core.Position, len(positions))
	for _, p := range positions {
		if p.Contracts.IsPositive() {
			followerBySymbol[p.Symbol] = p
		}
	}

	for sym, pos := range followerBySymbol {
		if _, held := leaderBySymbol[sym]; held {
			continue
		}
		if err := s.closeOrphan(ctx, adapter, pos); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", sym, err))
			continue
		}
		report.OrphansClosed = append(report.OrphansClosed, sym)
	}

	for sym, leaderPos := range leaderBySymbol {
		if _, held := followerBySymbol[sym]; held {
			continue
		}
		joined, err := s.lateJoin(ctx, adapter, leaderPos, leaderEquity, equity)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", sym, err))
			continue
		}
		if joined {
			report.LateJoins = append(report.LateJoins, sym)
		}
	}

	return report
}

// closeOrphan flattens a follower position the leader no longer holds.
func (s *Syncer) closeOrphan(ctx context.Context, adapter core.IExchangeAdapter, pos *core.Position) error {
	if s.cfg.DryRun {
		s.logger.Info("dry run, would close orphan position",
			"user_id", adapter.UserID(), "symbol", pos.Symbol, "contracts", pos.Contracts)
		return nil
	}

	s.logger.Info("closing orphan position",
		"user_id", adapter.UserID(), "symbol", pos.Symbol, "contracts", pos.Contracts)

	order, err := adapter.PlaceOrder(ctx, &core.OrderRequest{
		Symbol:     pos.Symbol,
		Type:       core.OrderTypeMarket,
		Side:       pos.Side.CloseSide(),
		Amount:     pos.Contracts,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("orphan close failed: %w", err)
	}
	if order.Status == core.OrderStatusFailed {
		return fmt.Errorf("orphan close rejected: %s", order.ErrorMessage)
	}
	telemetry.GetGlobalMetrics().IncOrphanClose(ctx)
	s.alerts.Notify(ctx, alert.Warning, "orphan position closed",
		fmt.Sprintf("flattened %s %s the leader no longer holds", pos.Contracts, pos.Symbol),
		map[string]string{"user_id": adapter.UserID(), "symbol": pos.Symbol})
	return nil
}

// lateJoin opens the follower's share of a leader position it missed, when
// the admission gates hold. Returns false without error when a gate or the
// calculator rejects.
func (s *Syncer) lateJoin(ctx context.Context, adapter core.IExchangeAdapter, leaderPos *core.Position, leaderEquity, followerEquity decimal.Decimal) (bool, error) {
	admit, reason := s.admissible(ctx, adapter, leaderPos)
	if !admit {
		s.logger.Debug("late-join rejected",
			"user_id", adapter.UserID(), "symbol", leaderPos.Symbol, "reason", reason)
		return false, nil
	}

	limits, err := adapter.GetMarketLimits(ctx, leaderPos.Symbol)
	if err != nil {
		return false, fmt.Errorf("market limits read failed: %w", err)
	}
	ticker, err := adapter.GetTicker(ctx, leaderPos.Symbol)
	if err != nil {
		return false, fmt.Errorf("ticker read failed: %w", err)
	}
	price := ticker.Price()
	if !price.IsPositive() {
		price = leaderPos.MarkPrice
	}

	plan, reason := sizing.Compute(sizing.Inputs{
		LeaderPosition: leaderPos,
		LeaderEquity:   leaderEquity,
		FollowerEquity: followerEquity,
		LeaderLeverage: leaderPos.Leverage,
		Limits:         limits,
		Price:          price,
	}, s.params)
	if plan == nil {
		s.logger.Debug("late-join sizing rejected",
			"user_id", adapter.UserID(), "symbol", leaderPos.Symbol, "reason", reason)
		return false, nil
	}

	if s.cfg.DryRun {
		s.logger.Info("dry run, would late-join",
			"user_id", adapter.UserID(), "symbol", leaderPos.Symbol,
			"amount", plan.Amount, "leverage", plan.Leverage)
		return true, nil
	}

	if err := adapter.SetLeverage(ctx, leaderPos.Symbol, plan.Leverage, core.MarginIsolated); err != nil {
		return false, fmt.Errorf("set leverage failed: %w", err)
	}

	order, err := adapter.PlaceOrder(ctx, &core.OrderRequest{
		Symbol: leaderPos.Symbol,
		Type:   core.OrderTypeMarket,
		Side:   leaderPos.Side.OpenSide(),
		Amount: plan.Amount,
	})
	if err != nil {
		return false, fmt.Errorf("late-join order failed: %w", err)
	}
	if order.Status == core.OrderStatusFailed {
		return false, fmt.Errorf("late-join order rejected: %s", order.ErrorMessage)
	}

	s.logger.Info("late-joined leader position",
		"user_id", adapter.UserID(), "symbol", leaderPos.Symbol,
		"amount", plan.Amount, "leverage", plan.Leverage)
	telemetry.GetGlobalMetrics().IncLateJoin(ctx)
	return true, nil
}

// ensureMarkStreams subscribes to the leader venue's mark price stream for
// every leader symbol, once per symbol, when the adapter supports it.
// Streams share the syncer's lifetime and end on Stop.
func (s *Syncer) ensureMarkStreams(adapter core.IExchangeAdapter, leaderBySymbol map[string]*core.Position) {
	streamer, ok := adapter.(markStreamer)
	if !ok {
		return
	}
	for sym := range leaderBySymbol {
		s.markMu.Lock()
		if s.streaming[sym] {
			s.markMu.Unlock()
			continue
		}
		s.streaming[sym] = true
		s.markMu.Unlock()

		sym := sym
		streamer.StartMarkPriceStream(s.ctx, sym, func(mark decimal.Decimal, timestampMS int64) {
			if !mark.IsPositive() {
				return
			}
			s.markMu.Lock()
			s.marks[sym] = markSample{price: mark, at: time.Now()}
			s.markMu.Unlock()
		})
	}
}

// streamedMark returns the last streamed mark for a symbol when it is still
// fresh enough to drive the drift gate.
func (s *Syncer) streamedMark(symbol string) (decimal.Decimal, bool) {
	s.markMu.RLock()
	defer s.markMu.RUnlock()
	sample, ok := s.marks[symbol]
	if !ok || time.Since(sample.at) > markStaleAfter {
		return decimal.Zero, false
	}
	return sample.price, true
}

// admissible evaluates the late-join gates. Any read failure rejects.
func (s *Syncer) admissible(ctx context.Context, adapter core.IExchangeAdapter, leaderPos *core.Position) (bool, string) {
	if !leaderPos.EntryPrice.IsPositive() {
		return false, "leader entry price unknown"
	}

	price, ok := s.streamedMark(leaderPos.Symbol)
	if !ok {
		ticker, err := adapter.GetTicker(ctx, leaderPos.Symbol)
		if err != nil {
			return false, fmt.Sprintf("ticker read failed: %v", err)
		}
		price = ticker.Price()
	}
	if !price.IsPositive() {
		return false, "no usable price"
	}

	maxDrift := decimal.NewFromFloat(s.cfg.MaxPriceDriftPct).Div(decimal.NewFromInt(100))
	drift := price.Sub(leaderPos.EntryPrice).Abs().Div(leaderPos.EntryPrice)
	if drift.GreaterThan(maxDrift) {
		return false, fmt.Sprintf("price drift %s exceeds %s", drift, maxDrift)
	}

	if leaderPos.TimestampMS > 0 {
		age := time.Since(time.UnixMilli(leaderPos.TimestampMS))
		maxAge := time.Duration(s.cfg.MaxPositionAgeMins) * time.Minute
		if age >= maxAge {
			return false, fmt.Sprintf("position age %s exceeds %s", age.Truncate(time.Second), maxAge)
		}
	}

	return true, ""
}
