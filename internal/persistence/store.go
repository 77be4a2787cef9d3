// Package persistence implements the on-disk layout: one strategies.json,
// one directory per strategy holding state.json/trades.csv/pending_orders.json,
// and a global position_limits.json. All writes are atomic (tmp+fsync+rename)
// except trades.csv, which is appended to in place.
package persistence

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
)

const (
	strategiesFile     = "strategies.json"
	stateFile          = "state.json"
	tradesFile         = "trades.csv"
	pendingOrdersFile  = "pending_orders.json"
	positionLimitsFile = "position_limits.json"
)

var tradesHeader = []string{
	"timestamp", "strategy_id", "side", "price", "quantity", "z",
	"notional", "gf_before", "gf_after", "commission", "order_id",
	"limit_price", "cycle_info",
}

// Store implements core.IStateStore over the flat-file layout. Global files
// (strategies.json, position_limits.json) are protected by a single
// top-level lock; per-strategy files are only ever touched from within the
// caller's strategy-scoped lock, per the concurrency model, so no
// additional locking is layered on top here.
type Store struct {
	dataDir string
	mu      sync.Mutex // guards strategies.json and position_limits.json
}

// NewStore creates a Store rooted at dataDir, creating it if absent.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) strategyDir(strategyID string) string {
	return filepath.Join(s.dataDir, strategyID)
}

type strategiesDoc struct {
	Strategies []core.Strategy `json:"strategies"`
	LastUpdate time.Time       `json:"last_update"`
}

// LoadStrategies reads strategies.json. A missing file yields an empty list.
func (s *Store) LoadStrategies(ctx context.Context) ([]core.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dataDir, strategiesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	var doc strategiesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal strategies file: %w", err)
	}
	return doc.Strategies, nil
}

// SaveStrategies atomically overwrites strategies.json.
func (s *Store) SaveStrategies(ctx context.Context, strategies []core.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := strategiesDoc{Strategies: strategies, LastUpdate: time.Now()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal strategies file: %w", err)
	}
	return AtomicWriteFile(ctx, filepath.Join(s.dataDir, strategiesFile), data, 0o644)
}

// LoadState reads {strategy_id}/state.json.
func (s *Store) LoadState(ctx context.Context, strategyID string) (core.State, error) {
	path := filepath.Join(s.strategyDir(strategyID), stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return core.State{}, fmt.Errorf("read state file: %w", err)
	}
	var state core.State
	if err := json.Unmarshal(data, &state); err != nil {
		return core.State{}, fmt.Errorf("unmarshal state file: %w", err)
	}
	return state, nil
}

// SaveState atomically overwrites {strategy_id}/state.json, creating the
// per-strategy directory on first write.
func (s *Store) SaveState(ctx context.Context, state core.State) error {
	dir := s.strategyDir(state.StrategyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create strategy dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return AtomicWriteFile(ctx, filepath.Join(dir, stateFile), data, 0o644)
}

// AppendTrade appends one row to {strategy_id}/trades.csv, writing the
// header first if the file does not yet exist. Trades are write-once and
// this is the only writer — no atomic rename, a pure append.
func (s *Store) AppendTrade(ctx context.Context, trade core.Trade) error {
	dir := s.strategyDir(trade.StrategyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create strategy dir: %w", err)
	}
	path := filepath.Join(dir, tradesFile)

	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trades file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(tradesHeader); err != nil {
			return fmt.Errorf("write trades header: %w", err)
		}
	}
	if err := w.Write(tradeRow(trade)); err != nil {
		return fmt.Errorf("write trade row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// LoadRecentTrades reads {strategy_id}/trades.csv and returns every row with
// timestamp >= since, oldest first. A missing file yields no trades.
func (s *Store) LoadRecentTrades(_ context.Context, strategyID string, since time.Time) ([]core.Trade, error) {
	path := filepath.Join(s.strategyDir(strategyID), tradesFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open trades file: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trades file: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var trades []core.Trade
	for _, row := range rows[1:] { // skip header
		trade, err := parseTradeRow(strategyID, row)
		if err != nil {
			return nil, fmt.Errorf("parse trade row: %w", err)
		}
		if trade.Timestamp.Before(since) {
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func parseTradeRow(strategyID string, row []string) (core.Trade, error) {
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return core.Trade{}, err
	}
	price, err := decimal.NewFromString(row[3])
	if err != nil {
		return core.Trade{}, err
	}
	qty, err := decimal.NewFromString(row[4])
	if err != nil {
		return core.Trade{}, err
	}
	z, err := strconv.Atoi(row[5])
	if err != nil {
		return core.Trade{}, err
	}
	notional, err := decimal.NewFromString(row[6])
	if err != nil {
		return core.Trade{}, err
	}
	gfBefore, err := decimal.NewFromString(row[7])
	if err != nil {
		return core.Trade{}, err
	}
	gfAfter, err := decimal.NewFromString(row[8])
	if err != nil {
		return core.Trade{}, err
	}
	commission, err := decimal.NewFromString(row[9])
	if err != nil {
		return core.Trade{}, err
	}
	limitPrice, err := decimal.NewFromString(row[11])
	if err != nil {
		return core.Trade{}, err
	}
	return core.Trade{
		Timestamp:  ts,
		StrategyID: strategyID,
		Side:       core.Side(row[2]),
		Price:      price,
		Quantity:   qty,
		Z:          z,
		Notional:   notional,
		GFBefore:   gfBefore,
		GFAfter:    gfAfter,
		Commission: commission,
		OrderID:    row[10],
		LimitPrice: limitPrice,
		CycleInfo:  row[12],
	}, nil
}

func tradeRow(t core.Trade) []string {
	return []string{
		t.Timestamp.Format(time.RFC3339),
		t.StrategyID,
		string(t.Side),
		t.Price.String(),
		t.Quantity.String(),
		strconv.Itoa(t.Z),
		t.Notional.String(),
		t.GFBefore.String(),
		t.GFAfter.String(),
		t.Commission.String(),
		t.OrderID,
		t.LimitPrice.String(),
		t.CycleInfo,
	}
}

// LoadPendingOrders reads {strategy_id}/pending_orders.json. A missing file
// yields an empty map.
func (s *Store) LoadPendingOrders(ctx context.Context, strategyID string) (map[string]core.PendingOrder, error) {
	path := filepath.Join(s.strategyDir(strategyID), pendingOrdersFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]core.PendingOrder{}, nil
		}
		return nil, fmt.Errorf("read pending orders file: %w", err)
	}
	var orders map[string]core.PendingOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("unmarshal pending orders file: %w", err)
	}
	return orders, nil
}

// SavePendingOrders atomically overwrites {strategy_id}/pending_orders.json —
// this is the WAL, reloaded from disk at the start of every reconcile pass.
func (s *Store) SavePendingOrders(ctx context.Context, strategyID string, orders map[string]core.PendingOrder) error {
	dir := s.strategyDir(strategyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create strategy dir: %w", err)
	}
	data, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending orders: %w", err)
	}
	return AtomicWriteFile(ctx, filepath.Join(dir, pendingOrdersFile), data, 0o644)
}

// LoadPositionLimits reads position_limits.json, defaulting to
// {+2000, -1200} when the file does not yet exist.
func (s *Store) LoadPositionLimits(ctx context.Context) (core.PositionLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dataDir, positionLimitsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.PositionLimits{
				MaxPositionUSD: decimal.NewFromInt(2000),
				MinPositionUSD: decimal.NewFromInt(-1200),
				UpdatedAt:      time.Now(),
			}, nil
		}
		return core.PositionLimits{}, fmt.Errorf("read position limits file: %w", err)
	}
	var limits core.PositionLimits
	if err := json.Unmarshal(data, &limits); err != nil {
		return core.PositionLimits{}, fmt.Errorf("unmarshal position limits file: %w", err)
	}
	return limits, nil
}

// SavePositionLimits atomically overwrites position_limits.json.
func (s *Store) SavePositionLimits(ctx context.Context, limits core.PositionLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limits.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(limits, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal position limits: %w", err)
	}
	return AtomicWriteFile(ctx, filepath.Join(s.dataDir, positionLimitsFile), data, 0o644)
}

var _ core.IStateStore = (*Store)(nil)
