package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the nearest multiple of the exchange's
// tick_size, halves rounding away from zero (not floor), since the caller may round a target price
// either up or down depending on the strategy's guardrail.
func RoundPrice(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	ticks := price.DivRound(tickSize, 0)
	return ticks.Mul(tickSize)
}

// FloorQuantity floors a quantity down to the exchange's step_size. Flooring
// (never rounding up) keeps the resulting order within the notional the
// strategy computed.
func FloorQuantity(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	steps := qty.Div(stepSize).Floor()
	return steps.Mul(stepSize)
}

// QuantityForNotional converts a target notional at a given price into a
// step-floored quantity.
func QuantityForNotional(notional, price, stepSize decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return FloorQuantity(notional.Div(price), stepSize)
}

// CalculatePriceLevels generates a sequence of price levels starting from an anchor.
func CalculatePriceLevels(anchorPrice, interval decimal.Decimal, count int) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, count)
	for i := 1; i <= count; i++ {
		prices = append(prices, anchorPrice.Add(interval.Mul(decimal.NewFromInt(int64(i)))))
	}
	return prices
}

// CalculateNetProfit computes profit after trading fees.
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}
