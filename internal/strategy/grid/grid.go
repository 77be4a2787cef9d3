// Package grid implements the Grid+OTT strategy handler: a fixed-spacing
// grid anchored at a Grid Foundation price, trading in the direction OTT
// currently favors.
package grid

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
	"perpengine/internal/strategy/common"
	"perpengine/pkg/tradingutils"
)

// duplicateTolerance is the price-units band within which an existing open
// order at the same side counts as a duplicate of a freshly computed target.
var duplicateTolerance = decimal.NewFromFloat(1e-4)

// Handler implements core.IStrategyHandler for Grid+OTT.
type Handler struct{}

func New() Handler { return Handler{} }

// InitializeState seeds an empty Grid Foundation; SeedGF sets it to the first
// observed price before the first CalculateSignal call.
func (Handler) InitializeState(strategy core.Strategy) core.State {
	return core.State{
		StrategyID:     strategy.ID,
		Symbol:         strategy.Symbol,
		StrategyType:   core.GridOTT,
		InitialBalance: core.DefaultInitialBalance,
		CashBalance:    core.DefaultInitialBalance,
		Grid:           &core.GridState{GF: decimal.Zero},
	}
}

func (Handler) ValidateStrategyConfig(strategy core.Strategy) (bool, string) {
	if strategy.Parameters.Grid == nil {
		return false, "grid parameters missing"
	}
	p := strategy.Parameters.Grid
	if !p.Y.IsPositive() {
		return false, "y must be > 0"
	}
	if !p.USDTGrid.IsPositive() {
		return false, "usdt_grid must be > 0"
	}
	return common.ValidateOTT(strategy.OTT)
}

// SeedGF sets the Grid Foundation to price if it has not yet been observed.
// The engine calls this once, before the first CalculateSignal, with the
// bar's close — the spec's "initialized to the first observed price".
func SeedGF(state core.State, price decimal.Decimal) core.State {
	if state.Grid == nil || state.Grid.GF.IsZero() {
		state.Grid = &core.GridState{GF: price}
	}
	return state
}

// CalculateSignal computes the current grid intent against an already-seeded
// Grid Foundation (see SeedGF).
func (h Handler) CalculateSignal(strategy core.Strategy, state core.State, currentPrice decimal.Decimal, ott *core.OTTResult, market core.MarketInfo, _ []core.OHLCVBar) core.Signal {
	if ott == nil {
		return core.Signal{Reason: "ott unavailable"}
	}
	if state.Grid == nil || state.Grid.GF.IsZero() {
		return core.Signal{Reason: "grid foundation uninitialized"}
	}

	params := strategy.Parameters.Grid
	gf := state.Grid.GF
	delta := currentPrice.Sub(gf).Abs()
	if delta.LessThanOrEqual(params.Y) {
		return core.Signal{Reason: "delta within one grid spacing"}
	}
	z := delta.Div(params.Y).Floor()
	if z.LessThan(decimal.NewFromInt(1)) {
		return core.Signal{Reason: "z < 1"}
	}

	var side core.Side
	var target decimal.Decimal
	switch {
	case ott.Mode == core.ModeAL && currentPrice.LessThan(gf):
		side = core.Buy
		target = gf.Sub(z.Mul(params.Y))
	case ott.Mode == core.ModeSAT && currentPrice.GreaterThan(gf):
		side = core.Sell
		target = gf.Add(z.Mul(params.Y))
	default:
		return core.Signal{Reason: "ott mode does not favor a side"}
	}

	target = tradingutils.RoundPrice(target, market.TickSize)
	if !common.WithinGuardrail(strategy, target) {
		return core.Signal{Reason: "target violates price guardrail"}
	}

	notional := z.Mul(params.USDTGrid)
	qty := tradingutils.QuantityForNotional(notional, target, market.StepSize)
	if qty.LessThan(market.MinQty) {
		return core.Signal{Reason: "quantity below exchange minimum"}
	}
	if isDuplicate(state, side, target) {
		return core.Signal{Reason: "duplicate order already open at target"}
	}

	return core.Signal{
		ShouldTrade: true,
		Side:        side,
		TargetPrice: &target,
		Quantity:    qty,
		Reason:      fmt.Sprintf("grid z=%s gf=%s", z, gf),
		StrategySpecificData: map[string]any{
			"z":         int(z.IntPart()),
			"gf_before": gf,
		},
	}
}

func isDuplicate(state core.State, side core.Side, target decimal.Decimal) bool {
	for _, o := range state.OpenOrders {
		if o.Side != side || o.Price == nil {
			continue
		}
		if o.Price.Sub(target).Abs().LessThanOrEqual(duplicateTolerance) {
			return true
		}
	}
	return false
}

// ProcessFill shifts the Grid Foundation by z grid spacings — the same z the
// signal was sized with, carried on trade.Z by the Order Manager from the
// WAL record's metadata — in the direction of the fill, and stamps the
// before/after values onto the trade.
func (Handler) ProcessFill(strategy core.Strategy, state core.State, trade *core.Trade) core.State {
	if state.Grid == nil {
		state.Grid = &core.GridState{}
	}
	y := strategy.Parameters.Grid.Y
	gfBefore := state.Grid.GF
	shift := y.Mul(decimal.NewFromInt(int64(trade.Z)))

	var gfAfter decimal.Decimal
	switch trade.Side {
	case core.Buy:
		gfAfter = gfBefore.Sub(shift)
	case core.Sell:
		gfAfter = gfBefore.Add(shift)
	default:
		gfAfter = gfBefore
	}

	trade.GFBefore = gfBefore
	trade.GFAfter = gfAfter
	state.Grid = &core.GridState{GF: gfAfter}
	return state
}

var _ core.IStrategyHandler = Handler{}
