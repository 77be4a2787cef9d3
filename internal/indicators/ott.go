package indicators

import (
	"github.com/shopspring/decimal"

	"perpengine/internal/core"
)

// OTT computes the EMA-baseline trend classifier over closes. Requires
// len(closes) >= period; returns false otherwise.
func OTT(closes []decimal.Decimal, period int, opt decimal.Decimal) (core.OTTResult, bool) {
	if len(closes) < period {
		return core.OTTResult{}, false
	}
	ema := EMA(closes, period)
	if len(ema) == 0 {
		return core.OTTResult{}, false
	}
	baseline := ema[len(ema)-1]
	currentPrice := closes[len(closes)-1]

	hundred := decimal.NewFromInt(100)
	upper := baseline.Mul(decimal.NewFromInt(1).Add(opt.Div(hundred)))
	lower := baseline.Mul(decimal.NewFromInt(1).Sub(opt.Div(hundred)))

	mode := core.ModeSAT
	if currentPrice.GreaterThan(baseline) {
		mode = core.ModeAL
	}

	return core.OTTResult{
		Mode:         mode,
		Baseline:     baseline,
		Upper:        upper,
		Lower:        lower,
		CurrentPrice: currentPrice,
	}, true
}
