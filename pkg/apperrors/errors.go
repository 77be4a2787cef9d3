// Package apperrors collects the sentinel errors the core distinguishes on,
// per the error taxonomy: transient/locally-recovered, validation/surfaced,
// and fatal.
package apperrors

import "errors"

// Exchange-adapter errors (transient unless noted).
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderRejected     = errors.New("order rejected")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrExchangeDown      = errors.New("exchange unavailable")
	// ErrOrderNotFound is returned by the Binance adapter's CancelOrder only
	// for a malformed order id; a cancel of an order the exchange no longer
	// knows returns nil.
	ErrOrderNotFound = errors.New("order not found")
)

// Validation errors (suppress a signal, not a failure).
var (
	ErrBelowMinQty      = errors.New("quantity below exchange minimum")
	ErrBelowMinNotional = errors.New("notional below exchange minimum")
	ErrOutOfGuardrail   = errors.New("price outside strategy guardrail")
	ErrDuplicateOrder   = errors.New("duplicate order at target price")
	ErrInvalidConfig    = errors.New("invalid strategy configuration")
)

// Engine/risk/health errors (surfaced to the operator).
var (
	ErrRiskDenied       = errors.New("risk gate denied signal")
	ErrStateCorruption  = errors.New("state invariant violated")
	ErrHandlerPanic     = errors.New("strategy handler panicked")
	ErrAutoDisabled     = errors.New("strategy auto-disabled")
	ErrPersistenceWrite = errors.New("persistence write failed")
)

// Fatal errors (process cannot continue).
var (
	ErrDataDirMissing       = errors.New("persistence directory missing")
	ErrStrategiesUnreadable = errors.New("strategies file unreadable at startup")
)
