// Package binance implements core.IExchange over the Binance USDT-M futures
// REST API. A single rate-limited client backs every method; market
// metadata is cached with a 1h TTL.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"perpengine/internal/core"
	"perpengine/pkg/apperrors"
	"perpengine/pkg/retry"
	"perpengine/pkg/tradingutils"
)

// Adapter wraps a futures.Client with rate limiting, retry, and the
// core.IExchange contract's validation/rounding/idempotency rules.
type Adapter struct {
	client  *futures.Client
	limiter *rate.Limiter
	logger  core.ILogger

	marketsMu  sync.RWMutex
	markets    map[string]core.MarketInfo
	marketsAge time.Time
}

// New creates an Adapter. minInterval is the minimum spacing enforced
// between outbound requests (spec: ≥0.5s).
func New(apiKey, secretKey string, minInterval time.Duration, logger core.ILogger) *Adapter {
	client := futures.NewClient(apiKey, secretKey)
	return &Adapter{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		logger:  logger,
	}
}

const marketsTTL = time.Hour

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "-1021") || // timestamp out of recv window
		strings.Contains(s, "-1003") || // rate limit
		strings.Contains(s, "connection") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "EOF")
}

// FetchMarkets returns linear USDT-perpetual symbol metadata, cached for
// marketsTTL.
func (a *Adapter) FetchMarkets(ctx context.Context) (map[string]core.MarketInfo, error) {
	a.marketsMu.RLock()
	if a.markets != nil && time.Since(a.marketsAge) < marketsTTL {
		cached := a.markets
		a.marketsMu.RUnlock()
		return cached, nil
	}
	a.marketsMu.RUnlock()

	var info *futures.ExchangeInfo
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var doErr error
		info, doErr = a.client.NewExchangeInfoService().Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch exchange info: %v", apperrors.ErrNetwork, err)
	}

	markets := make(map[string]core.MarketInfo)
	for _, sym := range info.Symbols {
		if sym.ContractType != "PERPETUAL" || sym.QuoteAsset != "USDT" {
			continue
		}
		mi := core.MarketInfo{Symbol: sym.Symbol}
		if lot := sym.LotSizeFilter(); lot != nil {
			mi.StepSize = mustDecimal(lot.StepSize)
			mi.MinQty = mustDecimal(lot.MinQuantity)
		}
		if pf := sym.PriceFilter(); pf != nil {
			mi.TickSize = mustDecimal(pf.TickSize)
		}
		if mn := sym.MinNotionalFilter(); mn != nil {
			mi.MinNotional = mustDecimal(mn.Notional)
		}
		markets[sym.Symbol] = mi
	}

	a.marketsMu.Lock()
	a.markets = markets
	a.marketsAge = time.Now()
	a.marketsMu.Unlock()

	return markets, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetCurrentPrice returns the latest mark/last price for symbol.
func (a *Adapter) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var prices []*futures.SymbolPrice
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var doErr error
		prices, doErr = a.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return doErr
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: get price %s: %v", apperrors.ErrNetwork, symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return mustDecimal(prices[0].Price), nil
}

var timeframeToInterval = map[core.Timeframe]string{
	core.TF1m:  "1m",
	core.TF5m:  "5m",
	core.TF15m: "15m",
	core.TF1h:  "1h",
	core.TF1d:  "1d",
}

// FetchOHLCV returns up to limit bars, oldest first. The most recent bar may
// still be open; callers wanting "last closed" must use the second-to-last.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol string, timeframe core.Timeframe, limit int) ([]core.OHLCVBar, error) {
	interval, ok := timeframeToInterval[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported timeframe %s", apperrors.ErrInvalidConfig, timeframe)
	}

	var klines []*futures.Kline
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var doErr error
		klines, doErr = a.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch ohlcv %s: %v", apperrors.ErrNetwork, symbol, err)
	}

	bars := make([]core.OHLCVBar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, core.OHLCVBar{
			TimestampMS: k.OpenTime,
			Open:        mustDecimal(k.Open),
			High:        mustDecimal(k.High),
			Low:         mustDecimal(k.Low),
			Close:       mustDecimal(k.Close),
			Volume:      mustDecimal(k.Volume),
		})
	}
	return bars, nil
}

// CreateLimitOrder floors qty to step_size and rounds price to tick_size,
// then rejects below-minimum orders before ever reaching the network.
func (a *Adapter) CreateLimitOrder(ctx context.Context, symbol string, side core.Side, qty, price decimal.Decimal) (core.SubmittedOrder, error) {
	market, err := a.marketFor(ctx, symbol)
	if err != nil {
		return core.SubmittedOrder{}, err
	}

	roundedPrice := tradingutils.RoundPrice(price, market.TickSize)
	flooredQty := tradingutils.FloorQuantity(qty, market.StepSize)

	if flooredQty.LessThan(market.MinQty) {
		return core.SubmittedOrder{}, apperrors.ErrBelowMinQty
	}
	if flooredQty.Mul(roundedPrice).LessThan(market.MinNotional) {
		return core.SubmittedOrder{}, apperrors.ErrBelowMinNotional
	}

	var resp *futures.CreateOrderResponse
	err = retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var doErr error
		resp, doErr = a.client.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Quantity(flooredQty.String()).
			Price(roundedPrice.String()).
			Do(ctx)
		return doErr
	})
	if err != nil {
		return core.SubmittedOrder{}, classifyOrderErr(err)
	}

	return core.SubmittedOrder{
		OrderID: fmt.Sprintf("%d", resp.OrderID),
		Status:  mapOrderStatus(string(resp.Status)),
	}, nil
}

// CreateMarketOrder submits qty floored to step_size as a market order.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) (core.SubmittedOrder, error) {
	market, err := a.marketFor(ctx, symbol)
	if err != nil {
		return core.SubmittedOrder{}, err
	}

	flooredQty := tradingutils.FloorQuantity(qty, market.StepSize)
	if flooredQty.LessThan(market.MinQty) {
		return core.SubmittedOrder{}, apperrors.ErrBelowMinQty
	}

	var resp *futures.CreateOrderResponse
	err = retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var doErr error
		resp, doErr = a.client.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(futures.OrderTypeMarket).
			Quantity(flooredQty.String()).
			Do(ctx)
		return doErr
	})
	if err != nil {
		return core.SubmittedOrder{}, classifyOrderErr(err)
	}

	return core.SubmittedOrder{
		OrderID: fmt.Sprintf("%d", resp.OrderID),
		Status:  mapOrderStatus(string(resp.Status)),
	}, nil
}

// CancelOrder is idempotent: "order not found" counts as success.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, convErr := strconv.ParseInt(orderID, 10, 64)
	if convErr != nil {
		return fmt.Errorf("%w: malformed order id %q", apperrors.ErrOrderNotFound, orderID)
	}

	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		_, doErr := a.client.NewCancelOrderService().
			Symbol(symbol).
			OrderID(id).
			Do(ctx)
		return doErr
	})
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "-2011") || strings.Contains(err.Error(), "Unknown order") {
		a.logger.Debug("cancel on already-closed order treated as success", "order_id", orderID, "symbol", symbol)
		return nil
	}
	return fmt.Errorf("%w: cancel order %s: %v", apperrors.ErrNetwork, orderID, err)
}

// CheckOrderStatusDetailed queries each order id individually; Binance's
// futures API has no batch-by-ids endpoint.
func (a *Adapter) CheckOrderStatusDetailed(ctx context.Context, symbol string, orderIDs []string) ([]core.OrderStatusReport, error) {
	reports := make([]core.OrderStatusReport, 0, len(orderIDs))
	for _, id := range orderIDs {
		numericID, convErr := strconv.ParseInt(id, 10, 64)
		if convErr != nil {
			reports = append(reports, core.OrderStatusReport{OrderID: id, Status: core.OrderRejected})
			continue
		}

		var order *futures.Order
		err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
			if err := a.wait(ctx); err != nil {
				return err
			}
			var doErr error
			order, doErr = a.client.NewGetOrderService().
				Symbol(symbol).
				OrderID(numericID).
				Do(ctx)
			return doErr
		})
		if err != nil {
			if strings.Contains(err.Error(), "-2013") || strings.Contains(err.Error(), "Order does not exist") {
				reports = append(reports, core.OrderStatusReport{OrderID: id, Status: core.OrderRejected})
				continue
			}
			return nil, fmt.Errorf("%w: check order status %s: %v", apperrors.ErrNetwork, id, err)
		}

		filled := mustDecimal(order.ExecutedQuantity)
		total := mustDecimal(order.OrigQuantity)
		reports = append(reports, core.OrderStatusReport{
			OrderID:      id,
			Status:       mapOrderStatus(string(order.Status)),
			FilledQty:    filled,
			RemainingQty: total.Sub(filled),
			AveragePrice: mustDecimal(order.AvgPrice),
		})
	}
	return reports, nil
}

// GetAllPositions aggregates net USD exposure across all open positions.
func (a *Adapter) GetAllPositions(ctx context.Context) (core.AggregatePosition, error) {
	var risks []*futures.PositionRisk
	err := retry.Do(ctx, retry.DefaultPolicy, isTransient, func() error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		var doErr error
		risks, doErr = a.client.NewGetPositionRiskService().Do(ctx)
		return doErr
	})
	if err != nil {
		return core.AggregatePosition{}, fmt.Errorf("%w: get positions: %v", apperrors.ErrNetwork, err)
	}

	agg := core.AggregatePosition{}
	for _, p := range risks {
		qty := mustDecimal(p.PositionAmt)
		if qty.IsZero() {
			continue
		}
		entry := mustDecimal(p.EntryPrice)
		notional := qty.Mul(entry)

		agg.Positions = append(agg.Positions, core.ExchangePosition{
			Symbol:     p.Symbol,
			Quantity:   qty,
			EntryPrice: entry,
		})
		agg.NetPositionUSD = agg.NetPositionUSD.Add(notional)
		if qty.IsPositive() {
			agg.TotalLongUSD = agg.TotalLongUSD.Add(notional)
		} else {
			agg.TotalShortUSD = agg.TotalShortUSD.Add(notional.Abs())
		}
	}
	return agg, nil
}

func (a *Adapter) marketFor(ctx context.Context, symbol string) (core.MarketInfo, error) {
	markets, err := a.FetchMarkets(ctx)
	if err != nil {
		return core.MarketInfo{}, err
	}
	market, ok := markets[symbol]
	if !ok {
		return core.MarketInfo{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return market, nil
}

func sideType(side core.Side) futures.SideType {
	if side == core.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func mapOrderStatus(status string) core.OrderStatus {
	switch status {
	case "NEW":
		return core.OrderOpen
	case "PARTIALLY_FILLED":
		return core.OrderPartiallyFilled
	case "FILLED":
		return core.OrderFilled
	case "CANCELED":
		return core.OrderCanceled
	case "EXPIRED":
		return core.OrderExpired
	case "REJECTED":
		return core.OrderRejected
	default:
		return core.OrderOpen
	}
}

func classifyOrderErr(err error) error {
	s := err.Error()
	switch {
	case strings.Contains(s, "-2019") || strings.Contains(s, "Margin is insufficient"):
		return fmt.Errorf("%w: %v", apperrors.ErrInsufficientFunds, err)
	case strings.Contains(s, "-2010") || strings.Contains(s, "-1013"):
		return fmt.Errorf("%w: %v", apperrors.ErrOrderRejected, err)
	case strings.Contains(s, "-1003"):
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
}

var _ core.IExchange = (*Adapter)(nil)
