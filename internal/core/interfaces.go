package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ILogger defines the interface for structured logging. Shape is kept
// identical across the codebase so any component can accept it without
// importing a concrete logging backend.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IExchange is the narrow, rate-limited capability set the core consumes.
// A single implementation wraps one underlying exchange client.
type IExchange interface {
	FetchMarkets(ctx context.Context) (map[string]MarketInfo, error)
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchOHLCV(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]OHLCVBar, error)
	CreateLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (SubmittedOrder, error)
	CreateMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (SubmittedOrder, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CheckOrderStatusDetailed(ctx context.Context, symbol string, orderIDs []string) ([]OrderStatusReport, error)
	GetAllPositions(ctx context.Context) (AggregatePosition, error)
}

// IStrategyHandler is the capability interface every strategy algorithm
// implements: state initialization, signal generation, and fill reduction.
type IStrategyHandler interface {
	InitializeState(strategy Strategy) State
	CalculateSignal(strategy Strategy, state State, currentPrice decimal.Decimal, ott *OTTResult, market MarketInfo, recentOHLCV []OHLCVBar) Signal
	ProcessFill(strategy Strategy, state State, trade *Trade) State
	ValidateStrategyConfig(strategy Strategy) (bool, string)
}

// OTTResult is the EMA-baseline trend classifier's output for one bar.
type OTTResult struct {
	Mode         OTTMode
	Baseline     decimal.Decimal
	Upper        decimal.Decimal
	Lower        decimal.Decimal
	CurrentPrice decimal.Decimal
}

// IStateStore is the persistence capability for strategies, state, trades,
// the pending-order WAL and the global position limits.
type IStateStore interface {
	LoadStrategies(ctx context.Context) ([]Strategy, error)
	SaveStrategies(ctx context.Context, strategies []Strategy) error

	LoadState(ctx context.Context, strategyID string) (State, error)
	SaveState(ctx context.Context, state State) error

	AppendTrade(ctx context.Context, trade Trade) error
	// LoadRecentTrades returns every trade row for strategyID at or after
	// since, oldest first. Used by the health monitor's consecutive-buy
	// check; not on the hot order-submission path.
	LoadRecentTrades(ctx context.Context, strategyID string, since time.Time) ([]Trade, error)

	LoadPendingOrders(ctx context.Context, strategyID string) (map[string]PendingOrder, error)
	SavePendingOrders(ctx context.Context, strategyID string, orders map[string]PendingOrder) error

	LoadPositionLimits(ctx context.Context) (PositionLimits, error)
	SavePositionLimits(ctx context.Context, limits PositionLimits) error
}

// IOrderManager is the per-strategy crash-safe order lifecycle layer.
type IOrderManager interface {
	CreateOrder(ctx context.Context, strategy Strategy, state State, signal Signal) error
	ReconcileOrders(ctx context.Context, strategy Strategy, state State) (State, bool, error)
	HasPendingOrders(ctx context.Context, strategyID string) (bool, error)
}

// IRiskGate enforces the aggregate net-position USD bounds before a signal
// is allowed to reach the Order Manager.
type IRiskGate interface {
	Evaluate(ctx context.Context, strategy Strategy, signal Signal) (allowed bool, reason string, err error)
}

// IHealthMonitor validates structural invariants of a strategy's state and
// recent trades, and can recommend auto-disable.
type IHealthMonitor interface {
	Check(ctx context.Context, strategy Strategy, state State, recentTrades []Trade) HealthReport
}

// Severity classifies a single health finding.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Finding is one structural or behavioral issue the health monitor detected.
type Finding struct {
	Severity Severity
	Message  string
}

// HealthReport is the outcome of one health-monitor pass over a strategy.
type HealthReport struct {
	Findings    []Finding
	AutoDisable bool
}
