// Package dca implements the DCA+OTT strategy handler: scale into a position
// on confirmed lower lows while OTT favors buying, scale out on a profit
// threshold while OTT favors selling.
package dca

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
	"perpengine/internal/strategy/common"
	"perpengine/pkg/tradingutils"
)

// Handler implements core.IStrategyHandler for DCA+OTT.
type Handler struct{}

func New() Handler { return Handler{} }

func (Handler) InitializeState(strategy core.Strategy) core.State {
	return core.State{
		StrategyID:     strategy.ID,
		Symbol:         strategy.Symbol,
		StrategyType:   core.DCAOTT,
		InitialBalance: core.DefaultInitialBalance,
		CashBalance:    core.DefaultInitialBalance,
		DCA:            &core.DCAState{},
	}
}

func (Handler) ValidateStrategyConfig(strategy core.Strategy) (bool, string) {
	if strategy.Parameters.DCA == nil {
		return false, "dca parameters missing"
	}
	p := strategy.Parameters.DCA
	if !p.BaseUSDT.IsPositive() {
		return false, "base_usdt must be > 0"
	}
	if p.DCAMultiplier.LessThan(decimal.NewFromFloat(1.0)) || p.DCAMultiplier.GreaterThan(decimal.NewFromFloat(5.0)) {
		return false, "dca_multiplier out of range [1.0,5.0]"
	}
	if p.MinDropPct.LessThan(decimal.NewFromFloat(0.5)) || p.MinDropPct.GreaterThan(decimal.NewFromFloat(20.0)) {
		return false, "min_drop_pct out of range [0.5,20.0]"
	}
	if p.ProfitThresholdPct.LessThan(decimal.NewFromFloat(0.1)) || p.ProfitThresholdPct.GreaterThan(decimal.NewFromFloat(10.0)) {
		return false, "profit_threshold_pct out of range [0.1,10.0]"
	}
	return common.ValidateOTT(strategy.OTT)
}

func (h Handler) CalculateSignal(strategy core.Strategy, state core.State, currentPrice decimal.Decimal, ott *core.OTTResult, market core.MarketInfo, _ []core.OHLCVBar) core.Signal {
	if ott == nil {
		return core.Signal{Reason: "ott unavailable"}
	}
	if !common.WithinGuardrail(strategy, currentPrice) {
		return core.Signal{Reason: "price violates guardrail"}
	}
	if state.DCA == nil {
		state.DCA = &core.DCAState{}
	}

	params := strategy.Parameters.DCA
	switch {
	case ott.Mode == core.ModeAL:
		return h.calculateBuy(strategy, state, currentPrice, market, params)
	case ott.Mode == core.ModeSAT && len(state.DCA.Positions) > 0:
		return h.calculateSell(state, currentPrice, params)
	default:
		return core.Signal{Reason: "no positions to sell"}
	}
}

func (Handler) calculateBuy(strategy core.Strategy, state core.State, price decimal.Decimal, market core.MarketInfo, params *core.DCAParameters) core.Signal {
	positions := state.DCA.Positions
	var notional decimal.Decimal
	cycleInfo := ""

	if len(positions) == 0 {
		notional = params.BaseUSDT
		cycleInfo = fmt.Sprintf("D%d-1", state.DCA.CycleNumber+1)
	} else {
		firstBuy := positions[0].BuyPrice
		lastBuy := positions[len(positions)-1].BuyPrice
		if price.GreaterThanOrEqual(firstBuy) {
			return core.Signal{Reason: "price not below cycle's initial entry"}
		}
		if price.GreaterThan(lastBuy) {
			return core.Signal{Reason: "price not a lower low than last buy"}
		}
		dropFromLast := lastBuy.Sub(price).Div(lastBuy).Mul(decimal.NewFromInt(100))
		if dropFromLast.LessThan(params.MinDropPct) {
			return core.Signal{Reason: "drop from last buy below min_drop_pct"}
		}
		n := decimal.NewFromInt(int64(len(positions)))
		notional = params.BaseUSDT.Mul(params.DCAMultiplier.Pow(n))
		cycleInfo = fmt.Sprintf("D%d-%d", state.DCA.CycleNumber, len(positions)+1)
	}

	qty := tradingutils.QuantityForNotional(notional, price, market.StepSize)
	if qty.LessThan(market.MinQty) {
		return core.Signal{Reason: "quantity below exchange minimum"}
	}

	return core.Signal{
		ShouldTrade: true,
		Side:        core.Buy,
		Quantity:    qty,
		Reason:      "dca buy",
		StrategySpecificData: map[string]any{
			"cycle_info": cycleInfo,
		},
	}
}

func (Handler) calculateSell(state core.State, price decimal.Decimal, params *core.DCAParameters) core.Signal {
	avgCost := *avgCostOf(state.DCA)
	totalQty := totalQtyOf(state.DCA)
	threshold := decimal.NewFromInt(1).Add(params.ProfitThresholdPct.Div(decimal.NewFromInt(100)))

	fullExitPrice := avgCost.Mul(threshold)
	if price.GreaterThanOrEqual(fullExitPrice) {
		return core.Signal{
			ShouldTrade: true,
			Side:        core.Sell,
			Quantity:    totalQty,
			Reason:      "dca full exit",
			StrategySpecificData: map[string]any{
				"exit_kind": "full",
			},
		}
	}

	lastBuy := state.DCA.Positions[len(state.DCA.Positions)-1]
	partialExitPrice := lastBuy.BuyPrice.Mul(threshold)
	if price.GreaterThanOrEqual(partialExitPrice) {
		return core.Signal{
			ShouldTrade: true,
			Side:        core.Sell,
			Quantity:    lastBuy.Quantity,
			Reason:      "dca partial exit (LIFO lot)",
			StrategySpecificData: map[string]any{
				"exit_kind": "partial",
			},
		}
	}

	return core.Signal{Reason: "price below both exit thresholds"}
}

// ProcessFill appends or removes lots per the BUY/full-exit/partial-exit
// reducer rules; duplicate order_ids are rejected (idempotent replay).
func (Handler) ProcessFill(strategy core.Strategy, state core.State, trade *core.Trade) core.State {
	if state.DCA == nil {
		state.DCA = &core.DCAState{}
	}
	dca := state.DCA

	if trade.Side == core.Buy {
		for _, p := range dca.Positions {
			if p.OrderID == trade.OrderID {
				return state // already applied
			}
		}
		isFirst := len(dca.Positions) == 0
		dca.Positions = append(dca.Positions, core.DCALot{
			BuyPrice:  trade.Price,
			Quantity:  trade.Quantity,
			Timestamp: trade.Timestamp,
			OrderID:   trade.OrderID,
		})
		if isFirst {
			dca.CycleNumber++
			dca.CycleTradeCount = 1
		} else {
			dca.CycleTradeCount++
		}
		trade.CycleInfo = fmt.Sprintf("D%d-%d", dca.CycleNumber, dca.CycleTradeCount)
		state.DCA = dca
		return state
	}

	// SELL: a fill whose quantity matches the full position is a full exit;
	// anything else is the LIFO partial exit of the most recent lot.
	if totalQtyOf(dca).Equal(trade.Quantity) {
		dca.Positions = nil
		dca.CycleTradeCount = 0
	} else if len(dca.Positions) > 0 {
		dca.Positions = dca.Positions[:len(dca.Positions)-1]
	}
	state.DCA = dca
	return state
}

func totalQtyOf(d *core.DCAState) decimal.Decimal {
	total := decimal.Zero
	for _, p := range d.Positions {
		total = total.Add(p.Quantity)
	}
	return total
}

func avgCostOf(d *core.DCAState) *decimal.Decimal {
	total := totalQtyOf(d)
	if total.IsZero() {
		return nil
	}
	weighted := decimal.Zero
	for _, p := range d.Positions {
		weighted = weighted.Add(p.BuyPrice.Mul(p.Quantity))
	}
	avg := weighted.Div(total)
	return &avg
}

var _ core.IStrategyHandler = Handler{}
