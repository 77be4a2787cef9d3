package pnl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"perpengine/internal/core"
)

func freshState() core.State {
	return core.State{
		StrategyID:     "s1",
		InitialBalance: decimal.NewFromInt(1000),
		CashBalance:    decimal.NewFromInt(1000),
	}
}

func trade(side core.Side, price, qty float64) core.Trade {
	return core.Trade{
		Timestamp: time.Now(),
		Side:      side,
		Price:     decimal.NewFromFloat(price),
		Quantity:  decimal.NewFromFloat(qty),
	}
}

// P1: cash_balance == initial_balance + realized_pnl at rest.
func TestP1_CashEqualsInitialPlusRealized(t *testing.T) {
	state := freshState()
	state = ProcessFill(state, trade(core.Buy, 100, 1))
	state = ProcessFill(state, trade(core.Sell, 110, 1))

	assert.True(t, state.CashBalance.Equal(state.InitialBalance.Add(state.RealizedPnL)))
	assert.True(t, state.RealizedPnL.Equal(decimal.NewFromInt(10)))
}

// P2: replaying a fill sequence into a fresh state yields the same result
// as folding incrementally (associativity of the P&L fold).
func TestP2_FoldIsAssociative(t *testing.T) {
	fills := []core.Trade{
		trade(core.Buy, 100, 1),
		trade(core.Buy, 110, 1),
		trade(core.Sell, 120, 1),
	}

	incremental := freshState()
	for _, f := range fills {
		incremental = ProcessFill(incremental, f)
	}

	replayed := freshState()
	replayed = ProcessFill(replayed, fills[0])
	replayed = ProcessFill(replayed, fills[1])
	replayed = ProcessFill(replayed, fills[2])

	assert.True(t, incremental.PositionQuantity.Equal(replayed.PositionQuantity))
	assert.True(t, incremental.RealizedPnL.Equal(replayed.RealizedPnL))
	assert.True(t, incremental.CashBalance.Equal(replayed.CashBalance))
}

// P10: position_avg_cost is unchanged by any fill that strictly reduces |qty|.
func TestP10_AvgCostUnchangedByDecreasingFill(t *testing.T) {
	state := freshState()
	state = ProcessFill(state, trade(core.Buy, 100, 2))
	avgBefore := *state.PositionAvgCost

	state = ProcessFill(state, trade(core.Sell, 150, 1))
	avgAfter := *state.PositionAvgCost

	assert.True(t, avgBefore.Equal(avgAfter))
	assert.True(t, state.PositionQuantity.Equal(decimal.NewFromInt(1)))
}

func TestFlatOpenPosition_CashUnchanged(t *testing.T) {
	state := freshState()
	before := state.CashBalance
	state = ProcessFill(state, trade(core.Buy, 100, 1))
	assert.True(t, state.CashBalance.Equal(before))
	assert.True(t, state.PositionQuantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, core.PositionLong, *state.PositionSide)
}

func TestIncreaseLong_WeightedAverageCost(t *testing.T) {
	state := freshState()
	state = ProcessFill(state, trade(core.Buy, 100, 1))
	state = ProcessFill(state, trade(core.Buy, 200, 1))
	assert.True(t, state.PositionAvgCost.Equal(decimal.NewFromInt(150)))
	assert.True(t, state.PositionQuantity.Equal(decimal.NewFromInt(2)))
}

func TestReversal_OpensOppositePosition(t *testing.T) {
	state := freshState()
	state = ProcessFill(state, trade(core.Buy, 100, 1))
	state = ProcessFill(state, trade(core.Sell, 110, 3)) // closes 1, opens -2 short

	assert.True(t, state.PositionQuantity.Equal(decimal.NewFromInt(-2)))
	assert.True(t, state.PositionAvgCost.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, core.PositionShort, *state.PositionSide)
	assert.True(t, state.RealizedPnL.Equal(decimal.NewFromInt(10)))
}

func TestUnrealizedPnL_FlatIsZero(t *testing.T) {
	state := freshState()
	assert.True(t, UnrealizedPnL(state, decimal.NewFromInt(100)).IsZero())
}

func TestUnrealizedPnL_Long(t *testing.T) {
	state := freshState()
	state = ProcessFill(state, trade(core.Buy, 100, 2))
	u := UnrealizedPnL(state, decimal.NewFromInt(120))
	assert.True(t, u.Equal(decimal.NewFromInt(40)))
}
