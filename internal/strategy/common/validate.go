// Package common holds the validation rules every strategy handler shares:
// price guardrails and OTT parameter ranges.
package common

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpengine/internal/core"
)

// WithinGuardrail reports whether price falls inside the strategy's
// configured [price_min, price_max] band. An unset bound is unconstrained.
func WithinGuardrail(strategy core.Strategy, price decimal.Decimal) bool {
	if strategy.PriceMin != nil && price.LessThan(*strategy.PriceMin) {
		return false
	}
	if strategy.PriceMax != nil && price.GreaterThan(*strategy.PriceMax) {
		return false
	}
	return true
}

// ValidateOTT checks the shared OTT parameter range: period in [1,200],
// opt in [0.1, 10.0].
func ValidateOTT(ott core.OTTParams) (bool, string) {
	if ott.Period < 1 || ott.Period > 200 {
		return false, fmt.Sprintf("ott period %d out of range [1,200]", ott.Period)
	}
	if ott.Opt.LessThan(decimal.NewFromFloat(0.1)) || ott.Opt.GreaterThan(decimal.NewFromInt(10)) {
		return false, fmt.Sprintf("ott opt %s out of range [0.1,10.0]", ott.Opt)
	}
	return true, ""
}
