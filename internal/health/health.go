// Package health implements the per-strategy structural and behavioral
// invariant checks that can recommend auto-disabling a strategy.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
	"perpengine/internal/strategy/common"
)

// Monitor implements core.IHealthMonitor.
type Monitor struct {
	logger core.ILogger
}

func New(logger core.ILogger) *Monitor {
	return &Monitor{logger: logger.WithField("component", "health_monitor")}
}

const (
	avgCostTolerance = 0.05
	qtyTolerance     = 1e-6
	staleAfter       = time.Hour
	errorDisableAt   = 3
	consecutiveBuyWarnPct = 5.0
)

var qtyToleranceDec = decimal.NewFromFloat(qtyTolerance)
var avgCostToleranceDec = decimal.NewFromFloat(avgCostTolerance)

// Check runs every structural and behavioral invariant and recommends
// auto-disable per the spec's rules.
func (m *Monitor) Check(_ context.Context, strategy core.Strategy, state core.State, recentTrades []core.Trade) core.HealthReport {
	var findings []core.Finding

	findings = append(findings, checkLotCoherence(state)...)
	findings = append(findings, checkCycleCoherence(state)...)
	findings = append(findings, checkConsecutiveBuys(strategy, recentTrades)...)
	findings = append(findings, checkStaleness(state)...)
	findings = append(findings, checkParameterDrift(strategy)...)

	autoDisable := state.ErrorCount >= errorDisableAt
	for _, f := range findings {
		if f.Severity == core.SeverityCritical {
			autoDisable = true
		}
	}

	return core.HealthReport{Findings: findings, AutoDisable: autoDisable}
}

// checkLotCoherence recomputes Σqty/avg_cost from the strategy-specific lot
// list and compares to the canonical position fields on State.
func checkLotCoherence(state core.State) []core.Finding {
	var qty, avg decimal.Decimal
	var haveLots bool

	switch {
	case state.DCA != nil:
		qty, avg, haveLots = lotTotals(state.DCA.Positions)
	case state.BolGrid != nil:
		qty, avg, haveLots = lotTotals(state.BolGrid.Positions)
	default:
		return nil
	}
	if !haveLots {
		return nil
	}

	var findings []core.Finding
	if state.PositionQuantity.Sub(qty).Abs().GreaterThan(qtyToleranceDec) {
		findings = append(findings, core.Finding{
			Severity: core.SeverityError,
			Message:  fmt.Sprintf("position_quantity %s diverges from lot sum %s", state.PositionQuantity, qty),
		})
	}
	if state.PositionAvgCost != nil {
		if state.PositionAvgCost.Sub(avg).Abs().GreaterThan(avgCostToleranceDec) {
			findings = append(findings, core.Finding{
				Severity: core.SeverityError,
				Message:  fmt.Sprintf("position_avg_cost %s diverges from lot-implied %s", state.PositionAvgCost, avg),
			})
		}
	}
	return findings
}

func lotTotals(lots []core.DCALot) (qty, avg decimal.Decimal, ok bool) {
	if len(lots) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	total := decimal.Zero
	weighted := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.Quantity)
		weighted = weighted.Add(l.BuyPrice.Mul(l.Quantity))
	}
	if total.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	return total, weighted.Div(total), true
}

// checkCycleCoherence flags cycle>0 with no positions, and positions with
// cycle==0, per the spec's coherence rule.
func checkCycleCoherence(state core.State) []core.Finding {
	var cycleNumber int
	var hasPositions bool

	switch {
	case state.DCA != nil:
		cycleNumber = state.DCA.CycleNumber
		hasPositions = len(state.DCA.Positions) > 0
	case state.BolGrid != nil:
		cycleNumber = state.BolGrid.CycleNumber
		hasPositions = len(state.BolGrid.Positions) > 0
	default:
		return nil
	}

	var findings []core.Finding
	if cycleNumber > 0 && !hasPositions {
		findings = append(findings, core.Finding{
			Severity: core.SeverityWarning,
			Message:  "cycle_number > 0 but no open positions",
		})
	}
	if hasPositions && cycleNumber == 0 {
		findings = append(findings, core.Finding{
			Severity: core.SeverityWarning,
			Message:  "open positions exist but cycle_number is 0",
		})
	}
	return findings
}

// checkConsecutiveBuys scans the last 24h of trades for DCA strategies and
// flags consecutive buys at increasing prices.
func checkConsecutiveBuys(strategy core.Strategy, recentTrades []core.Trade) []core.Finding {
	if strategy.StrategyType != core.DCAOTT {
		return nil
	}
	cutoff := time.Now().Add(-24 * time.Hour)

	var findings []core.Finding
	var prevBuy *core.Trade
	for i := range recentTrades {
		t := recentTrades[i]
		if t.Side != core.Buy || t.Timestamp.Before(cutoff) {
			continue
		}
		if prevBuy != nil && t.Price.GreaterThan(prevBuy.Price) {
			risePct := t.Price.Sub(prevBuy.Price).Div(prevBuy.Price).Mul(decimal.NewFromInt(100))
			severity := core.SeverityWarning
			if risePct.GreaterThan(decimal.NewFromFloat(consecutiveBuyWarnPct)) {
				severity = core.SeverityCritical
			}
			findings = append(findings, core.Finding{
				Severity: severity,
				Message:  fmt.Sprintf("consecutive DCA buy at higher price: %s%% rise vs previous buy", risePct.StringFixed(2)),
			})
		}
		prevBuy = &recentTrades[i]
	}
	return findings
}

func checkStaleness(state core.State) []core.Finding {
	if state.LastUpdate.IsZero() || time.Since(state.LastUpdate) <= staleAfter {
		return nil
	}
	return []core.Finding{{
		Severity: core.SeverityWarning,
		Message:  fmt.Sprintf("state not updated in over %s", staleAfter),
	}}
}

func checkParameterDrift(strategy core.Strategy) []core.Finding {
	var findings []core.Finding
	if strategy.StrategyType != core.BolGrid {
		if ok, msg := common.ValidateOTT(strategy.OTT); !ok {
			findings = append(findings, core.Finding{Severity: core.SeverityWarning, Message: "ott parameter drift: " + msg})
		}
	}
	if strategy.StrategyType == core.BolGrid && strategy.Parameters.BolGrid != nil {
		p := strategy.Parameters.BolGrid
		if p.BollingerPeriod < 20 || p.BollingerPeriod > 500 {
			findings = append(findings, core.Finding{Severity: core.SeverityWarning, Message: "bollinger_period out of allowed range"})
		}
	}
	return findings
}

var _ core.IHealthMonitor = (*Monitor)(nil)
