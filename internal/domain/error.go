package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Session and ownership
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrOwnershipMismatch = errors.New("subscription not found for this account")

	// Payment provider
	ErrProvider        = errors.New("payment provider error")
	ErrProviderTimeout = errors.New("payment provider timed out")
	ErrUnsupported     = errors.New("operation not supported by payment provider")

	// Concurrency
	ErrLocked = errors.New("subscription is being modified by another request")
)

// ProviderError carries a message the provider itself returned, safe to show
// to the caller. Err holds the full cause and is what gets logged.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }
