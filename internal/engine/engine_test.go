package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpengine/internal/alert"
	"perpengine/internal/core"
	"perpengine/internal/strategy/grid"
)

type fakeStore struct {
	states     map[string]core.State
	strategies []core.Strategy
}

func newFakeStore(strategies ...core.Strategy) *fakeStore {
	return &fakeStore{states: map[string]core.State{}, strategies: strategies}
}

func (s *fakeStore) LoadStrategies(context.Context) ([]core.Strategy, error) { return s.strategies, nil }
func (s *fakeStore) SaveStrategies(_ context.Context, strategies []core.Strategy) error {
	s.strategies = strategies
	return nil
}
func (s *fakeStore) LoadState(_ context.Context, id string) (core.State, error) {
	st, ok := s.states[id]
	if !ok {
		return core.State{}, assertErr("no state")
	}
	return st, nil
}
func (s *fakeStore) SaveState(_ context.Context, state core.State) error {
	s.states[state.StrategyID] = state
	return nil
}
func (s *fakeStore) AppendTrade(context.Context, core.Trade) error { return nil }
func (s *fakeStore) LoadRecentTrades(context.Context, string, time.Time) ([]core.Trade, error) {
	return nil, nil
}
func (s *fakeStore) LoadPendingOrders(context.Context, string) (map[string]core.PendingOrder, error) {
	return nil, nil
}
func (s *fakeStore) SavePendingOrders(context.Context, string, map[string]core.PendingOrder) error {
	return nil
}
func (s *fakeStore) LoadPositionLimits(context.Context) (core.PositionLimits, error) {
	return core.PositionLimits{MaxPositionUSD: decimal.NewFromInt(2000), MinPositionUSD: decimal.NewFromInt(-1200)}, nil
}
func (s *fakeStore) SavePositionLimits(context.Context, core.PositionLimits) error { return nil }

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeExchange struct {
	bars  []core.OHLCVBar
	price decimal.Decimal
}

func (f *fakeExchange) FetchMarkets(context.Context) (map[string]core.MarketInfo, error) {
	return map[string]core.MarketInfo{"BTCUSDT": {Symbol: "BTCUSDT", StepSize: decimal.NewFromFloat(0.001), TickSize: decimal.NewFromFloat(0.1)}}, nil
}
func (f *fakeExchange) GetCurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}
func (f *fakeExchange) FetchOHLCV(context.Context, string, core.Timeframe, int) ([]core.OHLCVBar, error) {
	return f.bars, nil
}
func (f *fakeExchange) CreateLimitOrder(context.Context, string, core.Side, decimal.Decimal, decimal.Decimal) (core.SubmittedOrder, error) {
	return core.SubmittedOrder{OrderID: "1", Status: core.OrderOpen}, nil
}
func (f *fakeExchange) CreateMarketOrder(context.Context, string, core.Side, decimal.Decimal) (core.SubmittedOrder, error) {
	return core.SubmittedOrder{OrderID: "1", Status: core.OrderOpen}, nil
}
func (f *fakeExchange) CancelOrder(context.Context, string, string) error { return nil }
func (f *fakeExchange) CheckOrderStatusDetailed(context.Context, string, []string) ([]core.OrderStatusReport, error) {
	return nil, nil
}
func (f *fakeExchange) GetAllPositions(context.Context) (core.AggregatePosition, error) {
	return core.AggregatePosition{}, nil
}

// fakeOrderManager is a scriptable core.IOrderManager.
type fakeOrderManager struct {
	hasPending   bool
	createCalled int
	reconcileN   int
}

func (m *fakeOrderManager) CreateOrder(context.Context, core.Strategy, core.State, core.Signal) error {
	m.createCalled++
	return nil
}
func (m *fakeOrderManager) ReconcileOrders(_ context.Context, _ core.Strategy, state core.State) (core.State, bool, error) {
	m.reconcileN++
	return state, m.hasPending, nil
}
func (m *fakeOrderManager) HasPendingOrders(context.Context, string) (bool, error) { return m.hasPending, nil }

type fakeRiskGate struct {
	allow bool
}

func (g fakeRiskGate) Evaluate(context.Context, core.Strategy, core.Signal) (bool, string, error) {
	return g.allow, "denied by test", nil
}

type fakeHealthMonitor struct{}

func (fakeHealthMonitor) Check(context.Context, core.Strategy, core.State, []core.Trade) core.HealthReport {
	return core.HealthReport{}
}

// fakeHandler returns a fixed signal and counts calls.
type fakeHandler struct {
	signal core.Signal
	calls  int
}

func (h *fakeHandler) InitializeState(s core.Strategy) core.State {
	return core.State{StrategyID: s.ID, Symbol: s.Symbol}
}
func (h *fakeHandler) CalculateSignal(core.Strategy, core.State, decimal.Decimal, *core.OTTResult, core.MarketInfo, []core.OHLCVBar) core.Signal {
	h.calls++
	return h.signal
}
func (h *fakeHandler) ProcessFill(_ core.Strategy, state core.State, _ *core.Trade) core.State { return state }
func (h *fakeHandler) ValidateStrategyConfig(core.Strategy) (bool, string)                     { return true, "" }

type quietLogger struct{}

func (quietLogger) Debug(string, ...interface{})                     {}
func (quietLogger) Info(string, ...interface{})                      {}
func (quietLogger) Warn(string, ...interface{})                      {}
func (quietLogger) Error(string, ...interface{})                     {}
func (quietLogger) Fatal(string, ...interface{})                     {}
func (l quietLogger) WithField(string, interface{}) core.ILogger     { return l }
func (l quietLogger) WithFields(map[string]interface{}) core.ILogger { return l }

func bars(closes ...float64) []core.OHLCVBar {
	out := make([]core.OHLCVBar, len(closes))
	for i, c := range closes {
		out[i] = core.OHLCVBar{TimestampMS: int64(i) * 60000, Close: decimal.NewFromFloat(c)}
	}
	return out
}

func testStrategy() core.Strategy {
	return core.Strategy{
		ID: "s1", Symbol: "BTCUSDT", StrategyType: core.GridOTT, Timeframe: core.TF1m,
		OTT: core.OTTParams{Period: 3, Opt: decimal.NewFromFloat(2)}, Active: true,
	}
}

func newEngine(store *fakeStore, exchange *fakeExchange, om core.IOrderManager, risk core.IRiskGate, handler core.IStrategyHandler) *Engine {
	return New(Deps{
		Store: store, Exchange: exchange, OrderManager: om, RiskGate: risk,
		HealthMonitor: fakeHealthMonitor{},
		Handlers:      map[core.StrategyType]core.IStrategyHandler{core.GridOTT: handler},
		Alerts:        alert.NewAlertManager(quietLogger{}),
		Logger:        quietLogger{},
	})
}

// P9: last_bar_timestamp only advances, never regresses or re-fires on an
// unchanged bar.
func TestTick_SkipsSignalGenerationWhenBarUnchanged(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID, LastBarTimestamp: time.UnixMilli(60000)}
	exchange := &fakeExchange{bars: bars(100, 101, 102), price: decimal.NewFromInt(102)}
	om := &fakeOrderManager{}
	handler := &fakeHandler{signal: core.Signal{ShouldTrade: true, Side: core.Buy, Quantity: decimal.NewFromInt(1)}}

	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)
	require.NoError(t, e.Tick(context.Background(), strategy))

	assert.Equal(t, 0, handler.calls, "signal generation must be skipped for an already-seen closed bar")
	assert.Equal(t, 0, om.createCalled)
}

func TestTick_GeneratesSignalOnNewClosedBar(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID}
	exchange := &fakeExchange{bars: bars(100, 101, 102), price: decimal.NewFromInt(102)}
	om := &fakeOrderManager{}
	handler := &fakeHandler{signal: core.Signal{ShouldTrade: true, Side: core.Buy, Quantity: decimal.NewFromInt(1)}}

	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)
	require.NoError(t, e.Tick(context.Background(), strategy))

	assert.Equal(t, 1, handler.calls)
	assert.Equal(t, 1, om.createCalled)
	saved := store.states[strategy.ID]
	assert.Equal(t, time.UnixMilli(bars(100, 101, 102)[1].TimestampMS), saved.LastBarTimestamp)
}

func TestTick_RiskDenialSkipsOrderCreation(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID}
	exchange := &fakeExchange{bars: bars(100, 101, 102), price: decimal.NewFromInt(102)}
	om := &fakeOrderManager{}
	handler := &fakeHandler{signal: core.Signal{ShouldTrade: true, Side: core.Buy, Quantity: decimal.NewFromInt(1)}}

	e := newEngine(store, exchange, om, fakeRiskGate{allow: false}, handler)
	require.NoError(t, e.Tick(context.Background(), strategy))

	assert.Equal(t, 0, om.createCalled)
}

// Reconciliation runs on every tick, independent of whether a new bar has
// closed, and the engine never generates a signal while orders are still
// pending.
func TestTick_SkipsSignalGenerationWhilePendingOrdersExist(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID}
	exchange := &fakeExchange{bars: bars(100, 101, 102), price: decimal.NewFromInt(102)}
	om := &fakeOrderManager{hasPending: true}
	handler := &fakeHandler{signal: core.Signal{ShouldTrade: true, Side: core.Buy, Quantity: decimal.NewFromInt(1)}}

	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)
	require.NoError(t, e.Tick(context.Background(), strategy))

	assert.Equal(t, 1, om.reconcileN)
	assert.Equal(t, 0, handler.calls)
	assert.Equal(t, 0, om.createCalled)
}

// Scenario 5 (crash recovery): on a fresh process with no cached state, the
// very first tick still reconciles the WAL before anything else, so a fill
// that completed before the crash is picked up immediately on restart.
func TestTick_ReconcilesBeforeGeneratingSignalOnColdStart(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy) // no cached state: LoadState will fail, InitializeState used
	exchange := &fakeExchange{bars: bars(100, 101, 102), price: decimal.NewFromInt(102)}
	om := &fakeOrderManager{}
	handler := &fakeHandler{signal: core.Signal{}}

	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)
	require.NoError(t, e.Tick(context.Background(), strategy))

	assert.Equal(t, 1, om.reconcileN, "reconcile must run even when no prior state was cached")
}

func TestTick_AutoDeactivatesAfterConsecutiveErrors(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID, ErrorCount: maxConsecutiveErrors - 1}
	exchange := &fakeExchange{}
	om := &fakeOrderManager{}
	handler := &fakeHandler{}

	// Force a failure path: strategy references a symbol with no market info.
	strategy.Symbol = "NOSUCHSYMBOL"
	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)

	err := e.Tick(context.Background(), strategy)
	require.Error(t, err)

	saved, loadErr := store.LoadStrategies(context.Background())
	require.NoError(t, loadErr)
	require.Len(t, saved, 1)
	assert.False(t, saved[0].Active, "strategy must be auto-disabled after hitting the consecutive error threshold")
}

func TestTick_RecoversFromHandlerPanic(t *testing.T) {
	strategy := testStrategy()
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID}
	exchange := &fakeExchange{bars: bars(100, 101, 102), price: decimal.NewFromInt(102)}
	om := &fakeOrderManager{}
	handler := &panicHandler{}

	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)
	err := e.Tick(context.Background(), strategy)
	require.Error(t, err)

	saved := store.states[strategy.ID]
	assert.Equal(t, 1, saved.ErrorCount)
}

// The engine, not the handler, is responsible for seeding the Grid
// Foundation on a cold strategy before the first signal is generated.
func TestTick_SeedsGridFoundationOnFirstTick(t *testing.T) {
	strategy := testStrategy()
	strategy.Parameters.Grid = &core.GridParameters{Y: decimal.NewFromInt(100), USDTGrid: decimal.NewFromInt(50)}
	store := newFakeStore(strategy)
	store.states[strategy.ID] = core.State{StrategyID: strategy.ID, Grid: &core.GridState{}}
	exchange := &fakeExchange{bars: bars(100, 101, 102, 103), price: decimal.NewFromInt(103)}
	om := &fakeOrderManager{}
	handler := grid.New()

	e := newEngine(store, exchange, om, fakeRiskGate{allow: true}, handler)
	require.NoError(t, e.Tick(context.Background(), strategy))

	saved := store.states[strategy.ID]
	require.NotNil(t, saved.Grid)
	assert.True(t, saved.Grid.GF.Equal(decimal.NewFromInt(102)), "GF must seed to the last closed bar's close")
}

type panicHandler struct{}

func (panicHandler) InitializeState(s core.Strategy) core.State { return core.State{StrategyID: s.ID} }
func (panicHandler) CalculateSignal(core.Strategy, core.State, decimal.Decimal, *core.OTTResult, core.MarketInfo, []core.OHLCVBar) core.Signal {
	panic("boom")
}
func (panicHandler) ProcessFill(_ core.Strategy, state core.State, _ *core.Trade) core.State { return state }
func (panicHandler) ValidateStrategyConfig(core.Strategy) (bool, string)                     { return true, "" }

var _ core.IStateStore = (*fakeStore)(nil)
var _ core.IExchange = (*fakeExchange)(nil)
var _ core.IOrderManager = (*fakeOrderManager)(nil)
var _ core.IRiskGate = fakeRiskGate{}
var _ core.IHealthMonitor = fakeHealthMonitor{}
var _ core.IStrategyHandler = (*fakeHandler)(nil)
var _ core.IStrategyHandler = panicHandler{}
