package shared

import "errors"

var (
	// ErrUnauthenticated indicates a missing or unusable credential.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden indicates an authenticated caller lacking the required role or rank.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates an operation that does not apply to the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable indicates a third-party dependency could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
