package session

import "errors"

var (
	// ErrInvalidToken is returned for a missing or unknown token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrIdentityNotFound is returned by an IdentityStore for unknown tokens.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrLookupFailed wraps identity store failures other than not found.
	ErrLookupFailed = errors.New("identity lookup failed")
)
