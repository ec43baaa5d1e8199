package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCommandsTotal        = "copytrader_commands_total"
	MetricLeaderOrdersTotal    = "copytrader_leader_orders_total"
	MetricFollowerOrdersTotal  = "copytrader_follower_orders_total"
	MetricReplicationsTotal    = "copytrader_replications_total"
	MetricOrphanClosesTotal    = "copytrader_orphan_closes_total"
	MetricLateJoinsTotal       = "copytrader_late_joins_total"
	MetricSyncCyclesTotal      = "copytrader_sync_cycles_total"
	MetricReplicationLatency   = "copytrader_replication_latency_seconds"
	MetricActiveAdapters       = "copytrader_active_adapters"
	MetricFollowerEquityUSDT   = "copytrader_follower_equity_usdt"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	CommandsTotal       metric.Int64Counter
	LeaderOrdersTotal   metric.Int64Counter
	FollowerOrdersTotal metric.Int64Counter
	ReplicationsTotal   metric.Int64Counter
	OrphanClosesTotal   metric.Int64Counter
	LateJoinsTotal      metric.Int64Counter
	SyncCyclesTotal     metric.Int64Counter
	ReplicationLatency  metric.Float64Histogram
	ActiveAdapters      metric.Int64ObservableGauge
	FollowerEquity      metric.Float64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	adapterCountMap map[string]int64
	equityMap       map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			adapterCountMap: make(map[string]int64),
			equityMap:       make(map[string]float64),
		}
		// Instruments are created in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CommandsTotal, err = meter.Int64Counter(MetricCommandsTotal, metric.WithDescription("Leader commands processed, by action and outcome"))
	if err != nil {
		return err
	}

	m.LeaderOrdersTotal, err = meter.Int64Counter(MetricLeaderOrdersTotal, metric.WithDescription("Orders placed on the leader account"))
	if err != nil {
		return err
	}

	m.FollowerOrdersTotal, err = meter.Int64Counter(MetricFollowerOrdersTotal, metric.WithDescription("Follower orders, by result"))
	if err != nil {
		return err
	}

	m.ReplicationsTotal, err = meter.Int64Counter(MetricReplicationsTotal, metric.WithDescription("Replication fan-outs executed"))
	if err != nil {
		return err
	}

	m.OrphanClosesTotal, err = meter.Int64Counter(MetricOrphanClosesTotal, metric.WithDescription("Orphan follower positions closed by the sync loop"))
	if err != nil {
		return err
	}

	m.LateJoinsTotal, err = meter.Int64Counter(MetricLateJoinsTotal, metric.WithDescription("Follower positions opened by late-join"))
	if err != nil {
		return err
	}

	m.SyncCyclesTotal, err = meter.Int64Counter(MetricSyncCyclesTotal, metric.WithDescription("Reconciliation cycles run, by outcome"))
	if err != nil {
		return err
	}

	m.ReplicationLatency, err = meter.Float64Histogram(MetricReplicationLatency, metric.WithDescription("Wall time of one replication fan-out"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	// Observables
	m.ActiveAdapters, err = meter.Int64ObservableGauge(MetricActiveAdapters, metric.WithDescription("Live exchange adapters, by exchange"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for exch, val := range m.adapterCountMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("exchange", exch)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.FollowerEquity, err = meter.Float64ObservableGauge(MetricFollowerEquityUSDT, metric.WithDescription("Last observed follower equity in USDT"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for user, val := range m.equityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("user_id", user)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// The Inc helpers are nil-safe so instrumented code paths work before
// InitMetrics has run (tests, the validate subcommand).

// IncCommand counts one processed leader command.
func (m *MetricsHolder) IncCommand(ctx context.Context, action, status string) {
	if m.CommandsTotal == nil {
		return
	}
	m.CommandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

// IncLeaderOrder counts one order placed on the leader account.
func (m *MetricsHolder) IncLeaderOrder(ctx context.Context, status string) {
	if m.LeaderOrdersTotal == nil {
		return
	}
	m.LeaderOrdersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// IncFollowerOrder counts one per-follower replication outcome.
func (m *MetricsHolder) IncFollowerOrder(ctx context.Context, result string) {
	if m.FollowerOrdersTotal == nil {
		return
	}
	m.FollowerOrdersTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// IncReplication counts one fan-out and records its wall time.
func (m *MetricsHolder) IncReplication(ctx context.Context, seconds float64) {
	if m.ReplicationsTotal != nil {
		m.ReplicationsTotal.Add(ctx, 1)
	}
	if m.ReplicationLatency != nil {
		m.ReplicationLatency.Record(ctx, seconds)
	}
}

// IncOrphanClose counts one orphan position closed by the sync loop.
func (m *MetricsHolder) IncOrphanClose(ctx context.Context) {
	if m.OrphanClosesTotal == nil {
		return
	}
	m.OrphanClosesTotal.Add(ctx, 1)
}

// IncLateJoin counts one position opened by late-join.
func (m *MetricsHolder) IncLateJoin(ctx context.Context) {
	if m.LateJoinsTotal == nil {
		return
	}
	m.LateJoinsTotal.Add(ctx, 1)
}

// IncSyncCycle counts one reconciliation cycle.
func (m *MetricsHolder) IncSyncCycle(ctx context.Context, outcome string) {
	if m.SyncCyclesTotal == nil {
		return
	}
	m.SyncCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SetAdapterCount records the number of live adapters for an exchange.
func (m *MetricsHolder) SetAdapterCount(exchange string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapterCountMap[exchange] = count
}

// SetFollowerEquity records the last observed equity for a follower.
func (m *MetricsHolder) SetFollowerEquity(userID string, equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[userID] = equity
}
