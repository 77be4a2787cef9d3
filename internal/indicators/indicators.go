// Package indicators holds the pure, side-effect-free computations
// strategy handlers use to classify trend and volatility.
package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

// SMA computes the simple moving average of the last `period` values in
// closes. Returns false if closes is shorter than period.
func SMA(closes []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(closes) < period {
		return decimal.Zero, false
	}
	window := closes[len(closes)-period:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// EMA computes the exponential moving average series over closes, seeded by
// the SMA of the first `period` values. The returned slice starts at index
// period-1 of closes (i.e. result[0] corresponds to closes[period-1]).
func EMA(closes []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(closes) < period {
		return nil
	}
	seed, ok := SMA(closes[:period], period)
	if !ok {
		return nil
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	oneMinusAlpha := decimal.NewFromInt(1).Sub(alpha)

	out := make([]decimal.Decimal, 0, len(closes)-period+1)
	out = append(out, seed)
	prev := seed
	for i := period; i < len(closes); i++ {
		next := closes[i].Mul(alpha).Add(prev.Mul(oneMinusAlpha))
		out = append(out, next)
		prev = next
	}
	return out
}

// StdDev computes the population standard deviation of a window.
func StdDev(window []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	if len(window) == 0 {
		return decimal.Zero
	}
	sumSq := decimal.Zero
	for _, v := range window {
		d := v.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(window))))
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}
