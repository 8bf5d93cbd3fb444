package jwtauth

import "errors"

var (
	// ErrInvalidToken is returned for tokens that fail shape, signature or claim checks
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned, wrapped in ErrInvalidToken, for expired tokens
	ErrTokenExpired = errors.New("token expired")

	// ErrKeyUnavailable is returned when discovery or JWKS documents cannot be obtained
	ErrKeyUnavailable = errors.New("signing keys unavailable")

	// ErrNotConfigured is returned when the verifier lacks the secret or key source a token needs
	ErrNotConfigured = errors.New("token verification not configured")
)
