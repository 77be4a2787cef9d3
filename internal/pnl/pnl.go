// Package pnl implements the universal position/cash accounting fold that
// every strategy handler's fill reducer builds on top of.
package pnl

import (
	"github.com/shopspring/decimal"

	"perpengine/internal/core"
)

// ProcessFill applies one trade fill to the universal position/P&L fields
// of state (CashBalance, RealizedPnL, PositionQuantity, PositionAvgCost,
// PositionSide) and returns the updated state. It does not touch any
// handler-specific custom state (Grid/DCA/BolGrid) — callers apply the
// corresponding handler reducer separately.
func ProcessFill(state core.State, trade core.Trade) core.State {
	signedQty := trade.Quantity
	if trade.Side == core.Sell {
		signedQty = signedQty.Neg()
	}

	switch {
	case state.PositionQuantity.IsZero():
		// Flat: open a new position. Cash unchanged.
		state.PositionQuantity = signedQty
		state.PositionAvgCost = ptr(trade.Price)
		side := core.PositionLong
		if trade.Side == core.Sell {
			side = core.PositionShort
		}
		state.PositionSide = &side
		return state

	case sameDirection(state, trade):
		// Increase: weighted-average cost, cash unchanged.
		oldAbsQty := state.PositionQuantity.Abs()
		newAbsQty := oldAbsQty.Add(trade.Quantity)
		oldAvg := decimal.Zero
		if state.PositionAvgCost != nil {
			oldAvg = *state.PositionAvgCost
		}
		newAvg := oldAbsQty.Mul(oldAvg).Add(trade.Quantity.Mul(trade.Price)).Div(newAbsQty)
		state.PositionQuantity = state.PositionQuantity.Add(signedQty)
		state.PositionAvgCost = ptr(newAvg)
		return state

	default:
		// Opposite direction: decrease by min(|old_qty|, trade.qty).
		oldAbsQty := state.PositionQuantity.Abs()
		avg := decimal.Zero
		if state.PositionAvgCost != nil {
			avg = *state.PositionAvgCost
		}
		closedQty := decimal.Min(oldAbsQty, trade.Quantity)

		var realized decimal.Decimal
		if state.PositionQuantity.GreaterThan(decimal.Zero) {
			// long & sell
			realized = trade.Price.Sub(avg).Mul(closedQty)
		} else {
			// short & buy
			realized = avg.Sub(trade.Price).Mul(closedQty)
		}
		state.RealizedPnL = state.RealizedPnL.Add(realized)
		state.CashBalance = state.CashBalance.Add(realized)

		remaining := oldAbsQty.Sub(closedQty)
		if remaining.IsZero() {
			excess := trade.Quantity.Sub(closedQty)
			if excess.GreaterThan(decimal.Zero) {
				// Residual opens a fresh position in the reversed direction.
				newSigned := excess
				newSide := core.PositionLong
				if trade.Side == core.Sell {
					newSigned = excess.Neg()
					newSide = core.PositionShort
				}
				state.PositionQuantity = newSigned
				state.PositionAvgCost = ptr(trade.Price)
				state.PositionSide = &newSide
			} else {
				state.PositionQuantity = decimal.Zero
				state.PositionAvgCost = nil
				state.PositionSide = nil
			}
		} else {
			// avg_cost is unchanged for the remaining lot (invariant 2/10).
			sign := decimal.NewFromInt(1)
			if state.PositionQuantity.LessThan(decimal.Zero) {
				sign = decimal.NewFromInt(-1)
			}
			state.PositionQuantity = remaining.Mul(sign)
		}
		return state
	}
}

// UnrealizedPnL computes the mark-to-market P&L of the current position at
// price. Flat positions (qty == 0) always return zero.
func UnrealizedPnL(state core.State, price decimal.Decimal) decimal.Decimal {
	if state.PositionQuantity.IsZero() || state.PositionAvgCost == nil {
		return decimal.Zero
	}
	avg := *state.PositionAvgCost
	absQty := state.PositionQuantity.Abs()
	if state.PositionQuantity.GreaterThan(decimal.Zero) {
		return price.Sub(avg).Mul(absQty)
	}
	return avg.Sub(price).Mul(absQty)
}

// TotalBalance is cash plus unrealized P&L at the given mark price.
func TotalBalance(state core.State, price decimal.Decimal) decimal.Decimal {
	return state.CashBalance.Add(UnrealizedPnL(state, price))
}

func sameDirection(state core.State, trade core.Trade) bool {
	long := state.PositionQuantity.GreaterThan(decimal.Zero)
	return (long && trade.Side == core.Buy) || (!long && trade.Side == core.Sell)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
