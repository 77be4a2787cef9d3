// Package core defines the shared domain types and capability interfaces
// that the rest of the engine is built against.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType discriminates the three concrete strategy algorithms.
type StrategyType string

const (
	GridOTT StrategyType = "GRID_OTT"
	DCAOTT  StrategyType = "DCA_OTT"
	BolGrid StrategyType = "BOL_GRID"
)

// Timeframe is one of the supported OHLCV bar widths.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// Side is a trade or order direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OTTParams bundles the shared EMA-baseline trend classifier parameters.
type OTTParams struct {
	Period int             `json:"period"` // [1, 200]
	Opt    decimal.Decimal `json:"opt"`    // [0.1, 10.0], percent band width
}

// Strategy is the immutable-per-tick configuration of a running strategy.
// Only Active and the counters mutate outside of an explicit reconfigure.
type Strategy struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Symbol       string             `json:"symbol"`
	Timeframe    Timeframe          `json:"timeframe"`
	StrategyType StrategyType       `json:"strategy_type"`
	Parameters   StrategyParameters `json:"parameters"`
	OTT          OTTParams          `json:"ott"`
	PriceMin     *decimal.Decimal   `json:"price_min,omitempty"`
	PriceMax     *decimal.Decimal   `json:"price_max,omitempty"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// StrategyParameters is the tagged variant over the three strategy-type
// specific parameter shapes. Exactly one of Grid/DCA/BolGrid is populated,
// selected by the owning Strategy's StrategyType.
type StrategyParameters struct {
	Grid    *GridParameters    `json:"grid,omitempty"`
	DCA     *DCAParameters     `json:"dca,omitempty"`
	BolGrid *BolGridParameters `json:"bol_grid,omitempty"`
}

// GridParameters configures the Grid+OTT handler.
type GridParameters struct {
	Y        decimal.Decimal `json:"y"`         // grid spacing, price units, > 0
	USDTGrid decimal.Decimal `json:"usdt_grid"` // notional per grid level, > 0
}

// DCAParameters configures the DCA+OTT handler.
type DCAParameters struct {
	BaseUSDT           decimal.Decimal `json:"base_usdt"`
	DCAMultiplier      decimal.Decimal `json:"dca_multiplier"`       // [1.0, 5.0]
	MinDropPct         decimal.Decimal `json:"min_drop_pct"`         // [0.5, 20.0]
	ProfitThresholdPct decimal.Decimal `json:"profit_threshold_pct"` // [0.1, 10.0], default 1.0
}

// BolGridParameters configures the Bollinger-Grid handler.
type BolGridParameters struct {
	InitialUSDT     decimal.Decimal `json:"initial_usdt"`
	MinDropPct      decimal.Decimal `json:"min_drop_pct"`
	MinProfitPct    decimal.Decimal `json:"min_profit_pct"`
	BollingerPeriod int             `json:"bollinger_period"` // [20, 500]
	BollingerStd    decimal.Decimal `json:"bollinger_std"`    // [1.0, 3.0]
}

// OTTMode is the trend-classifier's current regime.
type OTTMode string

const (
	ModeAL  OTTMode = "AL"  // buy regime
	ModeSAT OTTMode = "SAT" // sell regime
)

// PositionSide mirrors the sign of PositionQuantity, nil when flat.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// DCALot is a single FIFO/LIFO entry in a DCA position list.
type DCALot struct {
	BuyPrice  decimal.Decimal `json:"buy_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
	OrderID   string          `json:"order_id"`
}

// DCAState is the DCA+OTT handler's custom per-strategy state.
type DCAState struct {
	Positions       []DCALot `json:"dca_positions"`
	CycleNumber     int      `json:"cycle_number"`
	CycleTradeCount int      `json:"cycle_trade_count"`
}

// BollingerSnapshot is the most recently computed Bollinger band triple.
type BollingerSnapshot struct {
	Upper  decimal.Decimal `json:"upper"`
	Middle decimal.Decimal `json:"middle"`
	Lower  decimal.Decimal `json:"lower"`
}

// BolGridState is the Bol-Grid handler's custom per-strategy state.
type BolGridState struct {
	Positions     []DCALot          `json:"positions"`
	AverageCost   *decimal.Decimal  `json:"average_cost,omitempty"`
	TotalQuantity decimal.Decimal   `json:"total_quantity"`
	CycleNumber   int               `json:"cycle_number"`
	CycleStep     int               `json:"cycle_step"`
	CycleTrades   int               `json:"cycle_trades"`
	LastBuyPrice  *decimal.Decimal  `json:"last_buy_price,omitempty"`
	LastSellPrice *decimal.Decimal  `json:"last_sell_price,omitempty"`
	LastBollinger BollingerSnapshot `json:"last_bollinger"`
}

// GridState is the Grid+OTT handler's custom per-strategy state: just the
// Grid Foundation anchor, since the grid has no lot list.
type GridState struct {
	GF decimal.Decimal `json:"gf"` // Grid Foundation price; zero means uninitialized
}

// DefaultInitialBalance is the 1000-unit notional every strategy's cash
// accounting starts from, per convention. A handler's InitializeState must
// seed both InitialBalance and CashBalance to this value.
var DefaultInitialBalance = decimal.NewFromInt(1000)

// State is the mutable per-strategy record. CustomState is a tagged variant
// over the three handler-specific shapes, selected by StrategyType —
// exactly one of Grid/DCA/BolGrid is populated.
type State struct {
	StrategyID       string       `json:"strategy_id"`
	Symbol           string       `json:"symbol"`
	StrategyType     StrategyType `json:"strategy_type"`
	LastBarTimestamp time.Time    `json:"last_bar_timestamp"`
	LastOTTMode      *OTTMode     `json:"last_ott_mode,omitempty"`
	LastUpdate       time.Time    `json:"last_update"`

	// Universal position/P&L fields.
	InitialBalance   decimal.Decimal  `json:"initial_balance"`
	CashBalance      decimal.Decimal  `json:"cash_balance"`
	RealizedPnL      decimal.Decimal  `json:"realized_pnl"`
	PositionQuantity decimal.Decimal  `json:"position_quantity"` // signed
	PositionAvgCost  *decimal.Decimal `json:"position_avg_cost,omitempty"`
	PositionSide     *PositionSide    `json:"position_side,omitempty"`

	Grid    *GridState    `json:"gf_state,omitempty"`
	DCA     *DCAState     `json:"dca_state,omitempty"`
	BolGrid *BolGridState `json:"bol_grid_state,omitempty"`

	OpenOrders []PendingOrder `json:"open_orders"` // cached exchange view; WAL is authoritative

	ErrorCount int `json:"error_count"` // consecutive handler errors, resets to 0 on success
}

// Trade is a single append-only fill row.
type Trade struct {
	Timestamp  time.Time       `json:"timestamp"`
	StrategyID string          `json:"strategy_id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Notional   decimal.Decimal `json:"notional"`
	OrderID    string          `json:"order_id"`
	Commission decimal.Decimal `json:"commission"`
	CycleInfo  string          `json:"cycle_info"`
	Z          int             `json:"z"`
	GFBefore   decimal.Decimal `json:"gf_before"`
	GFAfter    decimal.Decimal `json:"gf_after"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderLimit  OrderType = "LIMIT"
	OrderMarket OrderType = "MARKET"
)

// PendingOrderStatus is the Order Manager WAL entry's state machine.
type PendingOrderStatus string

const (
	PendingSubmit PendingOrderStatus = "PENDING_SUBMIT"
	Submitted     PendingOrderStatus = "SUBMITTED"
	PendingCancel PendingOrderStatus = "PENDING_CANCEL"
	SubmitFailed  PendingOrderStatus = "SUBMIT_FAILED"
)

// PendingOrder is a single Order Manager WAL entry.
type PendingOrder struct {
	InternalID string             `json:"internal_id"`
	StrategyID string             `json:"strategy_id"`
	OrderID    string             `json:"order_id,omitempty"` // populated after exchange acknowledgment
	Side       Side               `json:"side"`
	Quantity   decimal.Decimal    `json:"quantity"`
	Price      *decimal.Decimal   `json:"price,omitempty"`
	OrderType  OrderType          `json:"order_type"`
	Status     PendingOrderStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	CycleInfo  string             `json:"cycle_info"`
	// Metadata carries handler-specific tags computed at signal time that the
	// fill reducer needs later (e.g. Grid's "z"), since the WAL record is the
	// only thing guaranteed to survive from signal to fill.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarketInfo is the cached per-symbol exchange metadata.
type MarketInfo struct {
	Symbol       string
	TickSize     decimal.Decimal
	StepSize     decimal.Decimal
	MinQty       decimal.Decimal
	MinNotional  decimal.Decimal
	CurrentPrice decimal.Decimal
}

// OHLCVBar is one candle: open-time-ms, open, high, low, close, volume.
type OHLCVBar struct {
	TimestampMS int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
}

// Signal is a strategy handler's trade intent, or no intent at all.
type Signal struct {
	ShouldTrade bool
	Side        Side
	TargetPrice *decimal.Decimal // nil ⇒ market order
	Quantity    decimal.Decimal
	Reason      string
	// StrategySpecificData carries fields the handler's fill reducer will
	// need later (e.g. the grid's z, gf_before for the Trade row).
	StrategySpecificData map[string]any
}

// PositionLimits are the risk gate's aggregate USD bounds.
type PositionLimits struct {
	MaxPositionUSD decimal.Decimal `json:"max_position_usd"`
	MinPositionUSD decimal.Decimal `json:"min_position_usd"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AggregatePosition is the exchange's authoritative net-exposure view.
type AggregatePosition struct {
	Positions      []ExchangePosition
	NetPositionUSD decimal.Decimal
	TotalLongUSD   decimal.Decimal
	TotalShortUSD  decimal.Decimal
}

// ExchangePosition is a single open position as reported by the exchange.
type ExchangePosition struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// OrderStatus is the exchange's terminal/non-terminal classification of a
// submitted order, returned from CheckOrderStatusDetailed.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "closed"
	OrderCanceled        OrderStatus = "canceled"
	OrderExpired         OrderStatus = "expired"
	OrderRejected        OrderStatus = "rejected"
)

// OrderStatusReport is one exchange order-status query result.
type OrderStatusReport struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    decimal.Decimal
	RemainingQty decimal.Decimal
	AveragePrice decimal.Decimal
}

// SubmittedOrder is the exchange's acknowledgment of a newly placed order.
type SubmittedOrder struct {
	OrderID string
	Status  OrderStatus
}
