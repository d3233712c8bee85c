package renderer

import "errors"

// Renderer errors.
var (
	// ErrUnknownProgram is returned when a behavior identifier has no
	// registered factory.
	ErrUnknownProgram = errors.New("unknown renderer program")

	// ErrDuplicateProgram is returned when a behavior identifier is
	// registered twice.
	ErrDuplicateProgram = errors.New("renderer program already registered")

	// ErrInvalidProgram is returned for empty identifiers or nil
	// factories.
	ErrInvalidProgram = errors.New("invalid renderer program registration")

	// ErrContextClosed is returned for operations against a context
	// that has shut down.
	ErrContextClosed = errors.New("renderer context closed")

	// ErrNoSuchElement is returned by page mutations whose target
	// selector matches nothing.
	ErrNoSuchElement = errors.New("no element matches selector")
)
