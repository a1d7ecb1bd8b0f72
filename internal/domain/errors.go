package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lock already held")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")

	// ErrQuoteUnavailable means a venue has no live quote for the instrument.
	// The cycle is skipped; a stale value is never substituted.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrSubmissionFailed means an order or bundle was rejected or could not
	// be delivered. No exposure changed.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrAmbiguousSubmission means the venue neither confirmed nor rejected a
	// submission. It must be resolved before any further leg is placed.
	ErrAmbiguousSubmission = errors.New("ambiguous submission")
	// ErrPartialFailure means leg A is live and leg B failed. The position is
	// left unhedged for an operator.
	ErrPartialFailure = errors.New("partial failure: unhedged leg")
	// ErrConfigurationInvalid is fatal at startup.
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	// ErrInsufficientBalance means the trading account cannot cover network
	// fees. Cycles are skipped until it is topped up.
	ErrInsufficientBalance = errors.New("insufficient fee balance")
	// ErrDuplicateIntent means the intent is already being executed.
	ErrDuplicateIntent = errors.New("intent already in flight")
)
