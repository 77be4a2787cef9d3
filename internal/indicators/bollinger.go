package indicators

import (
	"github.com/shopspring/decimal"
)

// BollingerPoint is one {upper, middle, lower} triple for a single bar.
type BollingerPoint struct {
	Upper  decimal.Decimal
	Middle decimal.Decimal
	Lower  decimal.Decimal
}

// BollingerBands computes the full {upper, middle, lower} series over
// prices for the given period and standard-deviation multiplier k. The
// result is aligned to prices[period-1:] — result[i] corresponds to
// prices[period-1+i].
func BollingerBands(prices []decimal.Decimal, period int, k decimal.Decimal) []BollingerPoint {
	if period <= 0 || len(prices) < period {
		return nil
	}
	out := make([]BollingerPoint, 0, len(prices)-period+1)
	for end := period; end <= len(prices); end++ {
		window := prices[end-period : end]
		middle, ok := SMA(window, period)
		if !ok {
			continue
		}
		std := StdDev(window, middle)
		band := std.Mul(k)
		out = append(out, BollingerPoint{
			Upper:  middle.Add(band),
			Middle: middle,
			Lower:  middle.Sub(band),
		})
	}
	return out
}
