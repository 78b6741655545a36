package domain

import "errors"

var (
	ErrInvalidRange              = errors.New("invalid date range")
	ErrNotAvailable              = errors.New("property is not available for the requested dates")
	ErrStayTooShort              = errors.New("stay is shorter than the minimum stay")
	ErrStayTooLong               = errors.New("stay is longer than the maximum stay")
	ErrSelfBooking               = errors.New("hosts cannot book their own property")
	ErrInvalidTransition         = errors.New("invalid booking status transition")
	ErrCancellationWindowExpired = errors.New("cancellation window has expired")
	ErrUnauthorized              = errors.New("actor is not allowed to perform this action")
	ErrNotFound                  = errors.New("not found")
	ErrConcurrentConflict        = errors.New("concurrent booking conflict, retry with a fresh availability check")
	ErrInvalidInput              = errors.New("invalid input")
)

// IsRetryable reports whether the caller may retry the operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict)
}
