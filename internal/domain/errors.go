package domain

import "errors"

// Oracle adapter error taxonomy. Every failure surfaced to a caller wraps
// exactly one of these.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidAuthority      = errors.New("invalid authority")
	ErrUnknownIdentifier     = errors.New("unknown identifier")
	ErrRequestAlreadyPending = errors.New("request already pending")
	ErrUnknownRequest        = errors.New("unknown request")
	ErrAlreadyFulfilled      = errors.New("request already fulfilled")
	ErrOracleUnavailable     = errors.New("oracle unavailable")
	ErrPriceNotAvailable     = errors.New("price not available")
	ErrInvalidBinding        = errors.New("invalid oracle binding")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrSigningFailed = errors.New("signing failed")
	ErrInvalidSigned = errors.New("invalid signed call")
	ErrInvalidPrice  = errors.New("invalid price")
	ErrReplayedCall  = errors.New("signed call replayed")
	ErrLockHeld      = errors.New("lock already held")
	ErrNotConfigured = errors.New("not configured")
)
