package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpengine/internal/core"
)

func TestSaveAndLoadStrategies(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	strategies := []core.Strategy{
		{ID: "s1", Name: "grid-1", Symbol: "BTCUSDT", StrategyType: core.GridOTT, Active: true},
	}
	require.NoError(t, s.SaveStrategies(ctx, strategies))

	loaded, err := s.LoadStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "s1", loaded[0].ID)
	assert.True(t, loaded[0].Active)
}

func TestLoadStrategiesMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	loaded, err := s.LoadStrategies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSaveAndLoadState_RoundTripsDecimal(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	state := core.State{
		StrategyID:       "s1",
		Symbol:           "BTCUSDT",
		StrategyType:     core.GridOTT,
		CashBalance:      decimal.NewFromInt(1000),
		PositionQuantity: decimal.NewFromFloat(0.015),
		Grid:             &core.GridState{GF: decimal.NewFromInt(30000)},
	}
	require.NoError(t, s.SaveState(ctx, state))

	loaded, err := s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, loaded.PositionQuantity.Equal(decimal.NewFromFloat(0.015)))
	require.NotNil(t, loaded.Grid)
	assert.True(t, loaded.Grid.GF.Equal(decimal.NewFromInt(30000)))
}

func TestAppendTrade_WritesHeaderOnce(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	trade := core.Trade{
		Timestamp:  time.Now(),
		StrategyID: "s1",
		Side:       core.Buy,
		Price:      decimal.NewFromInt(30000),
		Quantity:   decimal.NewFromFloat(0.01),
		Notional:   decimal.NewFromInt(300),
	}
	require.NoError(t, s.AppendTrade(ctx, trade))
	require.NoError(t, s.AppendTrade(ctx, trade))

	data, err := os.ReadFile(filepath.Join(s.strategyDir("s1"), tradesFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	// header + 2 trade rows
	assert.Len(t, lines, 3)
	assert.Equal(t, tradesHeader[0], "timestamp")
}

func TestPendingOrdersRoundTrip(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	orders := map[string]core.PendingOrder{
		"abc": {InternalID: "abc", StrategyID: "s1", Status: core.PendingSubmit, Quantity: decimal.NewFromFloat(0.01)},
	}
	require.NoError(t, s.SavePendingOrders(ctx, "s1", orders))

	loaded, err := s.LoadPendingOrders(ctx, "s1")
	require.NoError(t, err)
	require.Contains(t, loaded, "abc")
	assert.Equal(t, core.PendingSubmit, loaded["abc"].Status)
}

func TestLoadPositionLimits_DefaultsWhenMissing(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	limits, err := s.LoadPositionLimits(context.Background())
	require.NoError(t, err)
	assert.True(t, limits.MaxPositionUSD.Equal(decimal.NewFromInt(2000)))
	assert.True(t, limits.MinPositionUSD.Equal(decimal.NewFromInt(-1200)))
}
