package inject

import "errors"

// Injection errors.
var (
	// ErrNotAttached is returned when a unit targets a context the
	// injector was never attached to.
	ErrNotAttached = errors.New("context not attached to injector")
)
