package config

import "errors"

// Configuration errors.
var (
	// ErrUnknownPlugin is returned when addressing a plugin that was
	// never registered with the store.
	ErrUnknownPlugin = errors.New("plugin not registered")

	// ErrInvalidKey is returned for setting keys the store cannot
	// address (empty, or containing a path separator).
	ErrInvalidKey = errors.New("invalid setting key")

	// ErrCorruptStore is returned when the persisted document is not
	// valid JSON.
	ErrCorruptStore = errors.New("plugin store file is not valid JSON")
)
