package plugin

import "errors"

// Plugin system errors.
var (
	// ErrDuplicatePlugin is returned when registering a name that is
	// already taken. Registration collisions are programmer errors and
	// fail fast.
	ErrDuplicatePlugin = errors.New("plugin name already registered")

	// ErrPluginNotFound is returned when addressing an unregistered
	// plugin.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidMetadata is returned when a plugin's metadata fails
	// validation.
	ErrInvalidMetadata = errors.New("invalid plugin metadata")
)
