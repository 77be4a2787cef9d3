// Package ordermanager is the only component that talks to the exchange for
// order placement and status. It owns the per-strategy write-ahead log of
// pending orders and is the sole writer of Trade rows.
package ordermanager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpengine/internal/alert"
	"perpengine/internal/core"
	"perpengine/internal/pnl"
	"perpengine/pkg/apperrors"
)

// Config bounds order age for timeout-cancel and ghost-order detection.
type Config struct {
	// OrderTimeout is how long a SUBMITTED order may sit open before it is
	// actively cancelled. Spec range: 3-5 minutes.
	OrderTimeout time.Duration
	// GhostAge is how long a SUBMITTED order may be missing from the
	// exchange's status response before it is assumed lost and cancelled.
	GhostAge time.Duration
}

// DefaultConfig matches the spec's defaults (3 minute timeout, 5 minute
// ghost-order age).
func DefaultConfig() Config {
	return Config{OrderTimeout: 3 * time.Minute, GhostAge: 5 * time.Minute}
}

// Manager implements core.IOrderManager.
type Manager struct {
	store    core.IStateStore
	exchange core.IExchange
	logger   core.ILogger
	alerts   *alert.AlertManager
	handlers map[core.StrategyType]core.IStrategyHandler
	cfg      Config
}

// New wires a Manager against its dependencies. handlers must cover every
// core.StrategyType the engine will run.
func New(store core.IStateStore, exchange core.IExchange, logger core.ILogger, alerts *alert.AlertManager, handlers map[core.StrategyType]core.IStrategyHandler, cfg Config) *Manager {
	return &Manager{
		store:    store,
		exchange: exchange,
		logger:   logger.WithField("component", "order_manager"),
		alerts:   alerts,
		handlers: handlers,
		cfg:      cfg,
	}
}

// HasPendingOrders reports whether the WAL has any in-flight order for
// strategyID — the engine's signal-generation back-pressure check.
func (m *Manager) HasPendingOrders(ctx context.Context, strategyID string) (bool, error) {
	orders, err := m.store.LoadPendingOrders(ctx, strategyID)
	if err != nil {
		return false, fmt.Errorf("load pending orders: %w", err)
	}
	return len(orders) > 0, nil
}

// CreateOrder writes a PENDING_SUBMIT WAL record, submits to the exchange,
// and updates the record to SUBMITTED or SUBMIT_FAILED.
func (m *Manager) CreateOrder(ctx context.Context, strategy core.Strategy, state core.State, signal core.Signal) error {
	orders, err := m.store.LoadPendingOrders(ctx, strategy.ID)
	if err != nil {
		return fmt.Errorf("load pending orders: %w", err)
	}

	now := time.Now()
	order := core.PendingOrder{
		InternalID: uuid.NewString(),
		StrategyID: strategy.ID,
		Side:       signal.Side,
		Quantity:   signal.Quantity,
		Price:      signal.TargetPrice,
		OrderType:  core.OrderLimit,
		Status:     core.PendingSubmit,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   stringifyMetadata(signal.StrategySpecificData),
	}
	if signal.TargetPrice == nil {
		order.OrderType = core.OrderMarket
	}
	if cycleInfo, ok := signal.StrategySpecificData["cycle_info"].(string); ok {
		order.CycleInfo = cycleInfo
	}

	orders[order.InternalID] = order
	if err := m.store.SavePendingOrders(ctx, strategy.ID, orders); err != nil {
		return fmt.Errorf("persist WAL record: %w", err)
	}

	var submitted core.SubmittedOrder
	var submitErr error
	if signal.TargetPrice != nil {
		submitted, submitErr = m.exchange.CreateLimitOrder(ctx, strategy.Symbol, signal.Side, signal.Quantity, *signal.TargetPrice)
	} else {
		submitted, submitErr = m.exchange.CreateMarketOrder(ctx, strategy.Symbol, signal.Side, signal.Quantity)
	}

	order.UpdatedAt = time.Now()
	if submitErr != nil {
		order.Status = core.SubmitFailed
		orders[order.InternalID] = order
		_ = m.store.SavePendingOrders(ctx, strategy.ID, orders)
		m.notify(ctx, strategy, alert.Error, "order submission failed", submitErr.Error())
		return fmt.Errorf("submit order: %w", submitErr)
	}

	order.Status = core.Submitted
	order.OrderID = submitted.OrderID
	orders[order.InternalID] = order
	if err := m.store.SavePendingOrders(ctx, strategy.ID, orders); err != nil {
		return fmt.Errorf("persist submitted WAL record: %w", err)
	}

	m.notify(ctx, strategy, alert.Info, "order submitted",
		fmt.Sprintf("%s %s qty=%s order_id=%s", strategy.Symbol, signal.Side, signal.Quantity, submitted.OrderID))
	return nil
}

// ReconcileOrders reloads the WAL, batch-queries the exchange for every
// in-flight order, and applies fills/terminal statuses. The returned bool
// reports whether any pending orders remain after reconciliation.
func (m *Manager) ReconcileOrders(ctx context.Context, strategy core.Strategy, state core.State) (core.State, bool, error) {
	orders, err := m.store.LoadPendingOrders(ctx, strategy.ID)
	if err != nil {
		return state, false, fmt.Errorf("load pending orders: %w", err)
	}
	if len(orders) == 0 {
		return state, false, nil
	}

	queryable := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.Status == core.Submitted || o.Status == core.PendingCancel {
			queryable = append(queryable, o.OrderID)
		}
	}

	reports := make(map[string]core.OrderStatusReport, len(queryable))
	if len(queryable) > 0 {
		results, err := m.exchange.CheckOrderStatusDetailed(ctx, strategy.Symbol, queryable)
		if err != nil {
			return state, true, fmt.Errorf("check order status: %w", err)
		}
		for _, r := range results {
			reports[r.OrderID] = r
		}
	}

	handler, ok := m.handlers[strategy.StrategyType]
	if !ok {
		return state, true, fmt.Errorf("%w: no handler for strategy type %s", apperrors.ErrInvalidConfig, strategy.StrategyType)
	}

	now := time.Now()
	for id, order := range orders {
		if order.Status != core.Submitted && order.Status != core.PendingCancel {
			continue
		}

		report, found := reports[order.OrderID]
		if !found {
			if order.Status == core.Submitted && now.Sub(order.UpdatedAt) > m.cfg.GhostAge {
				m.logger.Warn("submitted order missing from exchange, assumed lost", "order_id", order.OrderID, "strategy_id", strategy.ID)
				_ = m.exchange.CancelOrder(ctx, strategy.Symbol, order.OrderID)
				delete(orders, id)
			}
			continue
		}

		switch report.Status {
		case core.OrderFilled:
			trade := m.buildTrade(strategy, order, report)
			state = pnl.ProcessFill(state, trade)
			state = handler.ProcessFill(strategy, state, &trade)
			if err := m.store.SaveState(ctx, state); err != nil {
				return state, true, fmt.Errorf("persist state after fill: %w", err)
			}
			if err := m.store.AppendTrade(ctx, trade); err != nil {
				return state, true, fmt.Errorf("append trade: %w", err)
			}
			delete(orders, id)

		case core.OrderCanceled, core.OrderExpired, core.OrderRejected:
			delete(orders, id)

		case core.OrderOpen, core.OrderPartiallyFilled:
			age := now.Sub(order.CreatedAt)
			if order.Status == core.Submitted && age > m.cfg.OrderTimeout {
				if err := m.exchange.CancelOrder(ctx, strategy.Symbol, order.OrderID); err != nil {
					m.logger.Warn("timeout cancel failed, will retry next pass", "order_id", order.OrderID, "error", err)
					continue
				}
				order.Status = core.PendingCancel
				order.UpdatedAt = now
				orders[id] = order
			}
		}
	}

	if err := m.store.SavePendingOrders(ctx, strategy.ID, orders); err != nil {
		return state, true, fmt.Errorf("persist WAL after reconcile: %w", err)
	}

	return state, len(orders) > 0, nil
}

func (m *Manager) buildTrade(strategy core.Strategy, order core.PendingOrder, report core.OrderStatusReport) core.Trade {
	trade := core.Trade{
		Timestamp:  time.Now(),
		StrategyID: strategy.ID,
		Side:       order.Side,
		Price:      report.AveragePrice,
		Quantity:   report.FilledQty,
		Notional:   report.AveragePrice.Mul(report.FilledQty),
		OrderID:    order.OrderID,
		Commission: decimal.Zero,
		CycleInfo:  order.CycleInfo,
		LimitPrice: priceOrZero(order.Price),
	}
	if z, ok := order.Metadata["z"]; ok {
		if parsed, err := strconv.Atoi(z); err == nil {
			trade.Z = parsed
		}
	}
	return trade
}

func priceOrZero(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}

func stringifyMetadata(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case decimal.Decimal:
			out[k] = val.String()
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func (m *Manager) notify(ctx context.Context, strategy core.Strategy, level alert.AlertLevel, title, message string) {
	if m.alerts == nil {
		return
	}
	m.alerts.Alert(ctx, title, message, level, map[string]string{"strategy_id": strategy.ID, "symbol": strategy.Symbol})
}

var _ core.IOrderManager = (*Manager)(nil)
