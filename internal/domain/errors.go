package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Validation errors — rejected before any side effect.
var (
	// ErrInvalidAmount is returned when the risked amount is not positive.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidMultiplier is returned when leverage is outside [1, 100].
	ErrInvalidMultiplier = errors.New("multiplier must be between 1 and 100")

	// ErrInvalidDirection is returned when the direction is not up or down.
	ErrInvalidDirection = errors.New("invalid direction: must be up or down")

	// ErrInvalidTrigger is returned when a take-profit or stop-loss price is
	// present but not positive, or sits on the wrong side of the open price
	// (a threshold the first tick would fire is rejected up front).
	ErrInvalidTrigger = errors.New("take-profit and stop-loss must be positive prices on the correct side of the open price")
)

// Funding and price errors
var (
	// ErrInsufficientFunds is returned when freeBalance cannot cover a new
	// deal even after the auto-replenish attempt. No side effect performed.
	ErrInsufficientFunds = errors.New("insufficient free balance")

	// ErrSymbolUnavailable is returned when the price feed cannot resolve the
	// requested symbol at open time.
	ErrSymbolUnavailable = errors.New("symbol unavailable from price feed")

	// ErrPriceUnavailable is a transient failure to obtain a current price;
	// callers may retry (manual close) or defer to the next tick (sweeper).
	ErrPriceUnavailable = errors.New("price temporarily unavailable")
)

// Deal lifecycle errors
var (
	// ErrDealNotFound is returned when no deal matches the given id.
	ErrDealNotFound = errors.New("deal not found")

	// ErrDealAlreadyClosed is the benign race outcome of the conditional
	// open→closed update: another trigger settled the deal first. Automated
	// callers drop it; manual close surfaces it as a no-op success.
	ErrDealAlreadyClosed = errors.New("deal is already closed")

	// ErrUnauthorized is returned when a caller acts on another user's deal.
	ErrUnauthorized = errors.New("deal does not belong to this user")

	// ErrBalanceNotFound is returned when no ledger record exists for the user.
	ErrBalanceNotFound = errors.New("balance not found")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsValidation returns true for errors that should map to HTTP 400: the
// request itself is malformed and retrying unchanged will never succeed.
func IsValidation(err error) bool {
	validationErrors := []error{
		ErrInvalidAmount,
		ErrInvalidMultiplier,
		ErrInvalidDirection,
		ErrInvalidTrigger,
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values
// directly when translating domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDealNotFound) || errors.Is(err, ErrBalanceNotFound)
}

// IsTransient returns true for errors that a caller may safely retry: the
// request is fine, the upstream price sources are not. Maps to HTTP 503.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPriceUnavailable) || errors.Is(err, ErrSymbolUnavailable)
}
