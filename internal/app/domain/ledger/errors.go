package ledger

import "errors"

// Validation failures are detected before any state mutation and are never
// retried. ErrUnavailable marks transient storage faults; callers may retry
// because every mutating operation re-checks state before committing.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidParameter  = errors.New("parameter out of range")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrNotFound          = errors.New("balance record not found")
	ErrVersionConflict   = errors.New("balance version conflict")
	ErrUnavailable       = errors.New("storage unavailable")
)
