package shared

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the mutation collides with current state,
	// e.g. a duplicate role name or an anti-lockout refusal.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited indicates the caller exhausted its request budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrBanned indicates the caller's address is currently banned.
	ErrBanned = errors.New("banned")
	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)
