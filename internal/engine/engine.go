// Package engine drives the per-strategy tick procedure: reconcile,
// generate a signal, risk-gate it, submit it, and persist the result. All
// operations on one strategy are strictly serialized by a per-strategy lock.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpengine/internal/alert"
	"perpengine/internal/core"
	"perpengine/internal/indicators"
	"perpengine/internal/strategy/grid"
	"perpengine/pkg/apperrors"
)

const (
	maxConsecutiveErrors = 5
	riskDenialCooldown   = 20 * time.Minute
	healthCheckInterval  = 5 * time.Minute
	ohlcvLookaheadBars   = 10
	recentTradesWindow   = 24 * time.Hour
)

// Engine wires every capability interface together and runs the per-tick
// procedure for one strategy at a time.
type Engine struct {
	store         core.IStateStore
	exchange      core.IExchange
	orderManager  core.IOrderManager
	riskGate      core.IRiskGate
	healthMonitor core.IHealthMonitor
	handlers      map[core.StrategyType]core.IStrategyHandler
	alerts        *alert.AlertManager
	logger        core.ILogger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	riskCooldownMu sync.Mutex
	riskCooldown   map[string]time.Time

	healthCheckMu sync.Mutex
	lastHealthRun map[string]time.Time
}

// Deps bundles Engine's dependencies for construction.
type Deps struct {
	Store         core.IStateStore
	Exchange      core.IExchange
	OrderManager  core.IOrderManager
	RiskGate      core.IRiskGate
	HealthMonitor core.IHealthMonitor
	Handlers      map[core.StrategyType]core.IStrategyHandler
	Alerts        *alert.AlertManager
	Logger        core.ILogger
}

func New(d Deps) *Engine {
	return &Engine{
		store:         d.Store,
		exchange:      d.Exchange,
		orderManager:  d.OrderManager,
		riskGate:      d.RiskGate,
		healthMonitor: d.HealthMonitor,
		handlers:      d.Handlers,
		alerts:        d.Alerts,
		logger:        d.Logger.WithField("component", "engine"),
		locks:         make(map[string]*sync.Mutex),
		riskCooldown:  make(map[string]time.Time),
		lastHealthRun: make(map[string]time.Time),
	}
}

func (e *Engine) lockFor(strategyID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[strategyID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[strategyID] = l
	}
	return l
}

// Tick runs one pass of the per-strategy procedure, guarded by that
// strategy's lock. A panic inside a handler is recovered and converted into
// a handler-exception-class error so the consecutive-error counter still
// advances.
func (e *Engine) Tick(ctx context.Context, strategy core.Strategy) (err error) {
	lock := e.lockFor(strategy.ID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", apperrors.ErrHandlerPanic, r)
		}
		e.recordTickOutcome(ctx, strategy, err)
	}()

	err = e.tick(ctx, strategy)
	return err
}

func (e *Engine) tick(ctx context.Context, strategy core.Strategy) error {
	handler, ok := e.handlers[strategy.StrategyType]
	if !ok {
		return fmt.Errorf("%w: no handler for strategy type %s", apperrors.ErrInvalidConfig, strategy.StrategyType)
	}

	state, err := e.store.LoadState(ctx, strategy.ID)
	if err != nil {
		state = handler.InitializeState(strategy)
	}

	state, hasPending, err := e.orderManager.ReconcileOrders(ctx, strategy, state)
	if err != nil {
		return fmt.Errorf("reconcile orders: %w", err)
	}
	if hasPending {
		state.LastUpdate = time.Now()
		return e.store.SaveState(ctx, state)
	}

	market, err := e.marketFor(ctx, strategy.Symbol)
	if err != nil {
		return fmt.Errorf("fetch market info: %w", err)
	}

	limit := e.ohlcvLimit(strategy)
	bars, err := e.exchange.FetchOHLCV(ctx, strategy.Symbol, strategy.Timeframe, limit)
	if err != nil {
		return fmt.Errorf("fetch ohlcv: %w", err)
	}
	if len(bars) < 2 {
		return nil // not enough history yet
	}
	// bars[len-1] is the still-forming candle; everything the handler sees
	// must be computed from closed bars only.
	closedBars := bars[:len(bars)-1]
	lastClosed := closedBars[len(closedBars)-1]
	barTime := time.UnixMilli(lastClosed.TimestampMS)
	if !barTime.After(state.LastBarTimestamp) {
		state.LastUpdate = time.Now()
		return e.store.SaveState(ctx, state)
	}

	if strategy.StrategyType == core.GridOTT {
		state = grid.SeedGF(state, lastClosed.Close)
	}

	var ott *core.OTTResult
	if strategy.StrategyType != core.BolGrid {
		closes := closesOf(closedBars)
		result, ok := indicators.OTT(closes, strategy.OTT.Period, strategy.OTT.Opt)
		if ok {
			ott = &result
		}
	}

	currentPrice, err := e.exchange.GetCurrentPrice(ctx, strategy.Symbol)
	if err != nil {
		return fmt.Errorf("get current price: %w", err)
	}

	signal := handler.CalculateSignal(strategy, state, currentPrice, ott, market, closedBars)
	if signal.ShouldTrade {
		allowed, reason, err := e.riskGate.Evaluate(ctx, strategy, signal)
		if err != nil {
			return fmt.Errorf("risk gate: %w", err)
		}
		if !allowed {
			e.notifyRiskDenial(ctx, strategy, reason)
		} else {
			if err := e.orderManager.CreateOrder(ctx, strategy, state, signal); err != nil {
				return fmt.Errorf("create order: %w", err)
			}
		}
	}

	state.LastBarTimestamp = barTime
	if ott != nil {
		mode := ott.Mode
		state.LastOTTMode = &mode
	}
	state.LastUpdate = time.Now()
	if err := e.store.SaveState(ctx, state); err != nil {
		return err
	}

	e.maybeRunHealthCheck(ctx, strategy, state)
	return nil
}

// maybeRunHealthCheck runs the health monitor at most once per
// healthCheckInterval per strategy, auto-disabling on a CRITICAL finding or
// the monitor's own error-count threshold. Failures here are logged, not
// surfaced as tick errors — health is advisory, not part of the tick's
// success/failure contract.
func (e *Engine) maybeRunHealthCheck(ctx context.Context, strategy core.Strategy, state core.State) {
	e.healthCheckMu.Lock()
	last, seen := e.lastHealthRun[strategy.ID]
	due := !seen || time.Since(last) >= healthCheckInterval
	if due {
		e.lastHealthRun[strategy.ID] = time.Now()
	}
	e.healthCheckMu.Unlock()
	if !due {
		return
	}

	trades, err := e.store.LoadRecentTrades(ctx, strategy.ID, time.Now().Add(-recentTradesWindow))
	if err != nil {
		e.logger.Warn("health monitor could not load recent trades", "strategy_id", strategy.ID, "error", err)
	}

	report := e.healthMonitor.Check(ctx, strategy, state, trades)
	for _, f := range report.Findings {
		e.logger.Warn("health finding", "strategy_id", strategy.ID, "severity", f.Severity, "message", f.Message)
	}
	if report.AutoDisable {
		e.deactivate(ctx, strategy, "health monitor recommended auto-disable")
	}
}

func (e *Engine) ohlcvLimit(strategy core.Strategy) int {
	if strategy.StrategyType == core.BolGrid && strategy.Parameters.BolGrid != nil {
		return strategy.Parameters.BolGrid.BollingerPeriod + ohlcvLookaheadBars
	}
	return strategy.OTT.Period + ohlcvLookaheadBars
}

func (e *Engine) marketFor(ctx context.Context, symbol string) (core.MarketInfo, error) {
	markets, err := e.exchange.FetchMarkets(ctx)
	if err != nil {
		return core.MarketInfo{}, err
	}
	market, ok := markets[symbol]
	if !ok {
		return core.MarketInfo{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return market, nil
}

func closesOf(bars []core.OHLCVBar) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// recordTickOutcome maintains the consecutive-error counter and
// auto-deactivates the strategy at the configured threshold.
func (e *Engine) recordTickOutcome(ctx context.Context, strategy core.Strategy, tickErr error) {
	state, err := e.store.LoadState(ctx, strategy.ID)
	if err != nil {
		return
	}

	if tickErr == nil {
		if state.ErrorCount != 0 {
			state.ErrorCount = 0
			_ = e.store.SaveState(ctx, state)
		}
		return
	}

	state.ErrorCount++
	_ = e.store.SaveState(ctx, state)
	e.logger.Error("tick failed", "strategy_id", strategy.ID, "error_count", state.ErrorCount, "error", tickErr)

	if state.ErrorCount >= maxConsecutiveErrors {
		e.deactivate(ctx, strategy, "consecutive tick errors reached "+fmt.Sprint(maxConsecutiveErrors))
	}
}

// deactivate cancels the strategy's exchange orders recorded in its WAL,
// marks it inactive, and persists the strategy list.
func (e *Engine) deactivate(ctx context.Context, strategy core.Strategy, reason string) {
	pending, err := e.store.LoadPendingOrders(ctx, strategy.ID)
	if err != nil {
		e.logger.Error("failed to load pending orders for deactivation", "strategy_id", strategy.ID, "error", err)
	}
	for _, order := range pending {
		if order.OrderID == "" {
			continue
		}
		if err := e.exchange.CancelOrder(ctx, strategy.Symbol, order.OrderID); err != nil {
			e.logger.Warn("failed to cancel order on deactivation", "strategy_id", strategy.ID, "order_id", order.OrderID, "error", err)
		}
	}

	strategies, err := e.store.LoadStrategies(ctx)
	if err != nil {
		e.logger.Error("failed to load strategies for deactivation", "strategy_id", strategy.ID, "error", err)
		return
	}
	for i := range strategies {
		if strategies[i].ID == strategy.ID {
			strategies[i].Active = false
			strategies[i].UpdatedAt = time.Now()
		}
	}
	if err := e.store.SaveStrategies(ctx, strategies); err != nil {
		e.logger.Error("failed to persist deactivation", "strategy_id", strategy.ID, "error", err)
	}

	if e.alerts != nil {
		e.alerts.Alert(ctx, "strategy auto-disabled", reason, alert.Critical, map[string]string{"strategy_id": strategy.ID})
	}
}

func (e *Engine) notifyRiskDenial(ctx context.Context, strategy core.Strategy, reason string) {
	e.riskCooldownMu.Lock()
	last, seen := e.riskCooldown[strategy.ID]
	due := !seen || time.Since(last) >= riskDenialCooldown
	if due {
		e.riskCooldown[strategy.ID] = time.Now()
	}
	e.riskCooldownMu.Unlock()

	if due && e.alerts != nil {
		e.alerts.Alert(ctx, "risk gate denied signal", reason, alert.Warning, map[string]string{"strategy_id": strategy.ID})
	}
}
