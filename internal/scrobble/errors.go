package scrobble

import "errors"

// Submission errors. Callers use errors.Is to pick a reaction: missing
// configuration and auth failures are terminal until the user acts,
// rate limiting is retryable later.
var (
	// ErrNotConfigured is returned while required credentials are absent.
	ErrNotConfigured = errors.New("scrobbler not configured")

	// ErrUnauthorized is returned when the service rejects the
	// credentials.
	ErrUnauthorized = errors.New("scrobbler credentials rejected")

	// ErrRateLimited is returned when the service asks for backoff.
	ErrRateLimited = errors.New("scrobbler rate limited")
)
