package domain

import "errors"

var (
	// ErrInvalidRequest is returned for requests that fail basic validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownVersion is returned when a tool version has no backend target.
	// No backend work is attempted.
	ErrUnknownVersion = errors.New("unknown tool version")

	// ErrUnavailable marks infrastructure failures: engine API errors,
	// transport errors and unexpected remote responses.
	ErrUnavailable = errors.New("sandbox unavailable")

	// ErrMisconfigured marks deployment defects, such as a missing credential
	// for the remote backend. It is not a per-request condition.
	ErrMisconfigured = errors.New("sandbox misconfigured")
)
