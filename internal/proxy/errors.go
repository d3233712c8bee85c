package proxy

import "errors"

// Proxy errors.
var (
	// ErrNoSecret is returned when signing is requested for a plugin
	// that never registered a shared secret.
	ErrNoSecret = errors.New("no signing secret registered")

	// ErrContextGone is returned when the owning renderer context was
	// torn down before or while the request ran.
	ErrContextGone = errors.New("renderer context gone")
)
