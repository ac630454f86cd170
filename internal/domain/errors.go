package domain

import "errors"

// Failures surfaced to the operator. Adapters wrap them with %w so callers
// can branch with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrCredentialExpired   = errors.New("credential expired")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrTicketRequestFailed = errors.New("session ticket request failed")
	ErrConnectionFailed    = errors.New("media connection failed")
)
