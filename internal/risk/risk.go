// Package risk implements the aggregate net-position USD gate every signal
// must clear before it reaches the Order Manager.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
)

// Gate implements core.IRiskGate against the exchange's authoritative
// position view and the persisted global position limits.
type Gate struct {
	store    core.IStateStore
	exchange core.IExchange
	logger   core.ILogger
}

func New(store core.IStateStore, exchange core.IExchange, logger core.ILogger) *Gate {
	return &Gate{store: store, exchange: exchange, logger: logger.WithField("component", "risk_gate")}
}

// Evaluate denies a BUY that would push projected net USD exposure above
// max_position_usd, or a SELL that would push it below min_position_usd.
// A market order whose price cannot be resolved is allowed through
// (fail-open with a warning) since no projection can be computed.
func (g *Gate) Evaluate(ctx context.Context, strategy core.Strategy, signal core.Signal) (bool, string, error) {
	if !signal.ShouldTrade {
		return true, "", nil
	}

	limits, err := g.store.LoadPositionLimits(ctx)
	if err != nil {
		return false, "", fmt.Errorf("load position limits: %w", err)
	}

	positions, err := g.exchange.GetAllPositions(ctx)
	if err != nil {
		return false, "", fmt.Errorf("get all positions: %w", err)
	}

	price := signal.TargetPrice
	if price == nil {
		resolved, err := g.exchange.GetCurrentPrice(ctx, strategy.Symbol)
		if err != nil {
			g.logger.Warn("risk gate could not resolve market order price, failing open", "strategy_id", strategy.ID, "error", err)
			return true, "price unresolved for market order, allowed through", nil
		}
		price = &resolved
	}

	notional := signal.Quantity.Mul(*price)
	var projected decimal.Decimal
	switch signal.Side {
	case core.Buy:
		projected = positions.NetPositionUSD.Add(notional)
		if projected.GreaterThan(limits.MaxPositionUSD) {
			return false, fmt.Sprintf("projected net %s exceeds max %s", projected, limits.MaxPositionUSD), nil
		}
	case core.Sell:
		projected = positions.NetPositionUSD.Sub(notional)
		if projected.LessThan(limits.MinPositionUSD) {
			return false, fmt.Sprintf("projected net %s below min %s", projected, limits.MinPositionUSD), nil
		}
	}

	return true, "", nil
}

var _ core.IRiskGate = (*Gate)(nil)
