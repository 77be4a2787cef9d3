package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal    = "perpengine_orders_placed_total"
	MetricOrdersFilledTotal    = "perpengine_orders_filled_total"
	MetricReconcilePassesTotal = "perpengine_reconcile_passes_total"
	MetricRiskDenialsTotal     = "perpengine_risk_denials_total"
	MetricHealthFindingsTotal  = "perpengine_health_findings_total"
	MetricPendingOrders        = "perpengine_pending_orders"
	MetricPositionNetUSD       = "perpengine_position_net_usd"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	ReconcilePassesTotal metric.Int64Counter
	RiskDenialsTotal     metric.Int64Counter
	HealthFindingsTotal  metric.Int64Counter
	PendingOrders        metric.Int64ObservableGauge
	PositionNetUSD       metric.Float64ObservableGauge

	// State for observable gauges, keyed by strategy_id
	mu             sync.RWMutex
	pendingOrders  map[string]int64
	positionNetUSD map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			pendingOrders:  make(map[string]int64),
			positionNetUSD: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to the exchange"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total fills reconciled from the exchange"))
	if err != nil {
		return err
	}

	m.ReconcilePassesTotal, err = meter.Int64Counter(MetricReconcilePassesTotal, metric.WithDescription("Total order-manager reconcile passes"))
	if err != nil {
		return err
	}

	m.RiskDenialsTotal, err = meter.Int64Counter(MetricRiskDenialsTotal, metric.WithDescription("Total signals denied by the risk gate"))
	if err != nil {
		return err
	}

	m.HealthFindingsTotal, err = meter.Int64Counter(MetricHealthFindingsTotal, metric.WithDescription("Total health monitor findings, by severity"))
	if err != nil {
		return err
	}

	m.PendingOrders, err = meter.Int64ObservableGauge(MetricPendingOrders, metric.WithDescription("Number of orders currently in the WAL per strategy"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for id, val := range m.pendingOrders {
				obs.Observe(val, metric.WithAttributes(attribute.String("strategy_id", id)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionNetUSD, err = meter.Float64ObservableGauge(MetricPositionNetUSD, metric.WithDescription("Net position notional in USD per strategy"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for id, val := range m.positionNetUSD {
				obs.Observe(val, metric.WithAttributes(attribute.String("strategy_id", id)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetPendingOrders updates the observed WAL depth for a strategy.
func (m *MetricsHolder) SetPendingOrders(strategyID string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingOrders[strategyID] = count
}

// SetPositionNetUSD updates the observed net position notional for a strategy.
func (m *MetricsHolder) SetPositionNetUSD(strategyID string, usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionNetUSD[strategyID] = usd
}
