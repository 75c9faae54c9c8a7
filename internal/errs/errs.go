// Package errs defines the sentinel error kinds used across the engine so
// callers can branch with errors.Is instead of string matching, and wrap
// context with fmt.Errorf("...: %w", ...) without losing the kind.
package errs

import "errors"

var (
	// ErrDataInvalid marks a candle or tick that failed validation (bad
	// OHLC ordering, non-positive price, zero volume where volume is required).
	ErrDataInvalid = errors.New("data invalid")

	// ErrPriceUnavailable means the fallback price chain was exhausted.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrExchangeRateLimited wraps a 429-class response from the exchange.
	ErrExchangeRateLimited = errors.New("exchange rate limited")

	// ErrExchangeTransient wraps a retryable 5xx or network-level failure.
	ErrExchangeTransient = errors.New("exchange transient error")

	// ErrPriceOutOfLimits means the exchange rejected an order for breaching
	// its price-band or percent-price-by-side limits.
	ErrPriceOutOfLimits = errors.New("price out of exchange limits")

	// ErrLeverageUnset means leverage could not be confirmed as set before
	// an entry order was attempted.
	ErrLeverageUnset = errors.New("leverage not set")

	// ErrInsufficientMargin wraps the exchange's margin-insufficient rejection.
	ErrInsufficientMargin = errors.New("insufficient margin")

	// ErrInvariantViolated marks a defensive check on an engine invariant
	// (e.g. more than one open position per symbol) failing at runtime.
	ErrInvariantViolated = errors.New("invariant violated")

	// ErrCloseFailed means a reduce-only close order was still rejected by
	// the exchange after its backoff retries were exhausted.
	ErrCloseFailed = errors.New("close failed")
)
