// Package bolgrid implements the Bollinger-Grid strategy handler: buys on a
// confirmed cross above the lower band, sells on a cross below the middle
// or upper band, sized by a one-sixth cycle-close rule. OTT is not used.
package bolgrid

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
	"perpengine/internal/indicators"
	"perpengine/internal/strategy/common"
	"perpengine/pkg/tradingutils"
)

// dust is the remaining-quantity floor below which a scaled-down lot is
// dropped entirely after a partial sell.
var dust = decimal.NewFromFloat(1e-6)

// Handler implements core.IStrategyHandler for Bol-Grid.
type Handler struct{}

func New() Handler { return Handler{} }

func (Handler) InitializeState(strategy core.Strategy) core.State {
	return core.State{
		StrategyID:     strategy.ID,
		Symbol:         strategy.Symbol,
		StrategyType:   core.BolGrid,
		InitialBalance: core.DefaultInitialBalance,
		CashBalance:    core.DefaultInitialBalance,
		BolGrid:        &core.BolGridState{},
	}
}

func (Handler) ValidateStrategyConfig(strategy core.Strategy) (bool, string) {
	if strategy.Parameters.BolGrid == nil {
		return false, "bol_grid parameters missing"
	}
	p := strategy.Parameters.BolGrid
	if !p.InitialUSDT.IsPositive() {
		return false, "initial_usdt must be > 0"
	}
	if p.BollingerPeriod < 20 || p.BollingerPeriod > 500 {
		return false, "bollinger_period out of range [20,500]"
	}
	if p.BollingerStd.LessThan(decimal.NewFromFloat(1.0)) || p.BollingerStd.GreaterThan(decimal.NewFromFloat(3.0)) {
		return false, "bollinger_std out of range [1.0,3.0]"
	}
	return true, ""
}

type crossSignal string

const (
	crossNone        crossSignal = ""
	crossAboveLower  crossSignal = "CROSS_ABOVE_LOWER"
	crossBelowMiddle crossSignal = "CROSS_BELOW_MIDDLE"
	crossBelowUpper  crossSignal = "CROSS_BELOW_UPPER"
)

func detectCross(prevPrice, currPrice decimal.Decimal, prev, curr indicators.BollingerPoint) crossSignal {
	if prevPrice.LessThanOrEqual(prev.Lower) && currPrice.GreaterThan(curr.Lower) {
		return crossAboveLower
	}
	if prevPrice.GreaterThanOrEqual(prev.Middle) && currPrice.LessThan(curr.Middle) {
		return crossBelowMiddle
	}
	if prevPrice.GreaterThanOrEqual(prev.Upper) && currPrice.LessThan(curr.Upper) {
		return crossBelowUpper
	}
	return crossNone
}

// CalculateSignal recomputes Bollinger bands from recentOHLCV's closes and
// looks for a cross on the last two closes.
func (h Handler) CalculateSignal(strategy core.Strategy, state core.State, currentPrice decimal.Decimal, _ *core.OTTResult, market core.MarketInfo, recentOHLCV []core.OHLCVBar) core.Signal {
	if !common.WithinGuardrail(strategy, currentPrice) {
		return core.Signal{Reason: "price violates guardrail"}
	}
	params := strategy.Parameters.BolGrid
	if len(recentOHLCV) < params.BollingerPeriod+1 {
		return core.Signal{Reason: "insufficient history for bollinger bands"}
	}

	closes := make([]decimal.Decimal, len(recentOHLCV))
	for i, b := range recentOHLCV {
		closes[i] = b.Close
	}
	bands := indicators.BollingerBands(closes, params.BollingerPeriod, params.BollingerStd)
	if len(bands) < 2 {
		return core.Signal{Reason: "insufficient bollinger points"}
	}
	curr := bands[len(bands)-1]
	prev := bands[len(bands)-2]
	prevPrice := closes[len(closes)-2]

	if state.BolGrid == nil {
		state.BolGrid = &core.BolGridState{}
	}
	state.BolGrid.LastBollinger = core.BollingerSnapshot{Upper: curr.Upper, Middle: curr.Middle, Lower: curr.Lower}

	switch detectCross(prevPrice, currentPrice, prev, curr) {
	case crossAboveLower:
		return h.calculateBuy(strategy, state, currentPrice, market, params)
	case crossBelowMiddle, crossBelowUpper:
		if len(state.BolGrid.Positions) == 0 {
			return core.Signal{Reason: "no positions to sell"}
		}
		return h.calculateSell(state, currentPrice, market, params)
	default:
		return core.Signal{Reason: "no band cross"}
	}
}

func (Handler) calculateBuy(strategy core.Strategy, state core.State, price decimal.Decimal, market core.MarketInfo, params *core.BolGridParameters) core.Signal {
	bg := state.BolGrid
	if len(bg.Positions) == 0 {
		qty := tradingutils.QuantityForNotional(params.InitialUSDT, price, market.StepSize)
		if qty.LessThan(market.MinQty) {
			return core.Signal{Reason: "quantity below exchange minimum"}
		}
		return core.Signal{
			ShouldTrade: true,
			Side:        core.Buy,
			Quantity:    qty,
			Reason:      "bol-grid first buy",
			StrategySpecificData: map[string]any{
				"cycle_info": fmt.Sprintf("D%d-1", bg.CycleNumber+1),
			},
		}
	}

	if bg.LastBuyPrice == nil || price.GreaterThanOrEqual(*bg.LastBuyPrice) {
		return core.Signal{Reason: "price not a lower low than last buy"}
	}
	dropFromAvg := bg.AverageCost.Sub(price).Div(*bg.AverageCost).Mul(decimal.NewFromInt(100))
	if dropFromAvg.LessThan(params.MinDropPct) {
		return core.Signal{Reason: "drop from average cost below min_drop_pct"}
	}

	qty := tradingutils.QuantityForNotional(params.InitialUSDT, price, market.StepSize)
	if qty.LessThan(market.MinQty) {
		return core.Signal{Reason: "quantity below exchange minimum"}
	}
	return core.Signal{
		ShouldTrade: true,
		Side:        core.Buy,
		Quantity:    qty,
		Reason:      "bol-grid additional buy",
		StrategySpecificData: map[string]any{
			"cycle_info": fmt.Sprintf("D%d-%d", bg.CycleNumber, bg.CycleTrades+1),
		},
	}
}

func (Handler) calculateSell(state core.State, price decimal.Decimal, market core.MarketInfo, params *core.BolGridParameters) core.Signal {
	bg := state.BolGrid
	if bg.AverageCost == nil || bg.AverageCost.IsZero() || !bg.TotalQuantity.IsPositive() {
		return core.Signal{Reason: "no average cost or quantity to sell against"}
	}
	profitPct := price.Sub(*bg.AverageCost).Div(*bg.AverageCost).Mul(decimal.NewFromInt(100))
	if profitPct.LessThan(params.MinProfitPct) {
		return core.Signal{Reason: "profit below min_profit_pct"}
	}

	oneSixth := params.InitialUSDT.Div(decimal.NewFromInt(6))
	half := tradingutils.FloorQuantity(bg.TotalQuantity.Div(decimal.NewFromInt(2)), market.StepSize)
	if bg.TotalQuantity.Mul(price).LessThan(oneSixth) {
		return core.Signal{
			ShouldTrade: true,
			Side:        core.Sell,
			Quantity:    bg.TotalQuantity,
			Reason:      "bol-grid cycle close (one-sixth rule)",
			StrategySpecificData: map[string]any{"exit_kind": "cycle_close"},
		}
	}

	return core.Signal{
		ShouldTrade: true,
		Side:        core.Sell,
		Quantity:    half,
		Reason:      "bol-grid partial sell",
		StrategySpecificData: map[string]any{"exit_kind": "partial"},
	}
}

// ProcessFill appends/rescales lots per the handler's reducer rules.
func (Handler) ProcessFill(strategy core.Strategy, state core.State, trade *core.Trade) core.State {
	if state.BolGrid == nil {
		state.BolGrid = &core.BolGridState{}
	}
	bg := state.BolGrid

	if trade.Side == core.Buy {
		isFirst := len(bg.Positions) == 0
		bg.Positions = append(bg.Positions, core.DCALot{
			BuyPrice:  trade.Price,
			Quantity:  trade.Quantity,
			Timestamp: trade.Timestamp,
			OrderID:   trade.OrderID,
		})
		recompute(bg)
		bg.LastBuyPrice = ptr(trade.Price)
		if isFirst {
			bg.CycleNumber++
			bg.CycleStep = 1
			bg.CycleTrades = 1
		} else {
			bg.CycleStep++
			bg.CycleTrades++
		}
		trade.CycleInfo = fmt.Sprintf("D%d-%d", bg.CycleNumber, bg.CycleStep)
		state.BolGrid = bg
		return state
	}

	// SELL
	if totalQty(bg).Equal(trade.Quantity) {
		bg.Positions = nil
		bg.AverageCost = nil
		bg.TotalQuantity = decimal.Zero
		bg.CycleStep = 0
		bg.CycleTrades = 0
		bg.LastBuyPrice = nil
		bg.LastSellPrice = ptr(trade.Price)
		state.BolGrid = bg
		return state
	}

	// partial: scale every lot by (1 - sell_ratio), drop dust
	ratio := trade.Quantity.Div(totalQty(bg))
	keep := decimal.NewFromInt(1).Sub(ratio)
	scaled := make([]core.DCALot, 0, len(bg.Positions))
	for _, lot := range bg.Positions {
		lot.Quantity = lot.Quantity.Mul(keep)
		if lot.Quantity.GreaterThan(dust) {
			scaled = append(scaled, lot)
		}
	}
	bg.Positions = scaled
	bg.LastSellPrice = ptr(trade.Price)
	recompute(bg)
	state.BolGrid = bg
	return state
}

func totalQty(bg *core.BolGridState) decimal.Decimal {
	total := decimal.Zero
	for _, p := range bg.Positions {
		total = total.Add(p.Quantity)
	}
	return total
}

func recompute(bg *core.BolGridState) {
	total := totalQty(bg)
	bg.TotalQuantity = total
	if total.IsZero() {
		bg.AverageCost = nil
		return
	}
	weighted := decimal.Zero
	for _, p := range bg.Positions {
		weighted = weighted.Add(p.BuyPrice.Mul(p.Quantity))
	}
	avg := weighted.Div(total)
	bg.AverageCost = &avg
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

var _ core.IStrategyHandler = Handler{}
