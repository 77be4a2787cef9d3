package dca

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpengine/internal/core"
)

func baseStrategy() core.Strategy {
	return core.Strategy{
		ID:     "d1",
		Symbol: "BTCUSDT",
		Parameters: core.StrategyParameters{
			DCA: &core.DCAParameters{
				BaseUSDT:           decimal.NewFromInt(100),
				DCAMultiplier:      decimal.NewFromFloat(2.0),
				MinDropPct:         decimal.NewFromFloat(2.0),
				ProfitThresholdPct: decimal.NewFromFloat(1.0),
			},
		},
		OTT: core.OTTParams{Period: 14, Opt: decimal.NewFromFloat(2)},
	}
}

func baseMarket() core.MarketInfo {
	return core.MarketInfo{
		StepSize: decimal.NewFromFloat(0.0001),
		MinQty:   decimal.NewFromFloat(0.0001),
	}
}

func TestCalculateSignal_FirstBuy(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{}}
	ott := &core.OTTResult{Mode: core.ModeAL}

	sig := h.CalculateSignal(baseStrategy(), state, decimal.NewFromInt(100), ott, baseMarket(), nil)
	require.True(t, sig.ShouldTrade)
	assert.Equal(t, core.Buy, sig.Side)
}

func TestCalculateSignal_RejectsIfNotLowerLow(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{
		Positions: []core.DCALot{{BuyPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1)}},
	}}
	ott := &core.OTTResult{Mode: core.ModeAL}

	sig := h.CalculateSignal(baseStrategy(), state, decimal.NewFromInt(101), ott, baseMarket(), nil)
	assert.False(t, sig.ShouldTrade)
}

func TestCalculateSignal_BuysOnSufficientDrop(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{
		Positions: []core.DCALot{{BuyPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1)}},
	}}
	ott := &core.OTTResult{Mode: core.ModeAL}

	// drop of exactly 2% from last buy of 100 -> 98
	sig := h.CalculateSignal(baseStrategy(), state, decimal.NewFromInt(98), ott, baseMarket(), nil)
	require.True(t, sig.ShouldTrade)
	assert.Equal(t, core.Buy, sig.Side)
}

func TestCalculateSignal_FullExitAtProfitThreshold(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{
		Positions: []core.DCALot{{BuyPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1)}},
	}}
	ott := &core.OTTResult{Mode: core.ModeSAT}

	sig := h.CalculateSignal(baseStrategy(), state, decimal.NewFromInt(101), ott, baseMarket(), nil)
	require.True(t, sig.ShouldTrade)
	assert.Equal(t, core.Sell, sig.Side)
	assert.True(t, sig.Quantity.Equal(decimal.NewFromFloat(1)))
}

func TestProcessFill_BuyStartsCycle(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{}}
	trade := &core.Trade{Side: core.Buy, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1), OrderID: "o1"}

	newState := h.ProcessFill(baseStrategy(), state, trade)
	assert.Len(t, newState.DCA.Positions, 1)
	assert.Equal(t, 1, newState.DCA.CycleNumber)
	assert.Equal(t, 1, newState.DCA.CycleTradeCount)
}

func TestProcessFill_DuplicateOrderIDIgnored(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{
		Positions: []core.DCALot{{BuyPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1), OrderID: "o1"}},
	}}
	trade := &core.Trade{Side: core.Buy, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1), OrderID: "o1"}

	newState := h.ProcessFill(baseStrategy(), state, trade)
	assert.Len(t, newState.DCA.Positions, 1)
}

func TestProcessFill_FullExitClearsPositions(t *testing.T) {
	h := New()
	state := core.State{DCA: &core.DCAState{
		Positions:   []core.DCALot{{BuyPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromFloat(1)}},
		CycleNumber: 1,
	}}
	trade := &core.Trade{Side: core.Sell, Quantity: decimal.NewFromFloat(1)}

	newState := h.ProcessFill(baseStrategy(), state, trade)
	assert.Empty(t, newState.DCA.Positions)
	assert.Equal(t, 1, newState.DCA.CycleNumber) // preserved
}
