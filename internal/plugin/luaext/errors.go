package luaext

import "errors"

// Errors reported while loading and running Lua plugins.
var (
	// ErrInvalidManifest is returned when manifest.json is missing,
	// unparseable, or fails validation.
	ErrInvalidManifest = errors.New("invalid plugin manifest")

	// ErrNoEntryPoint is returned when a plugin directory has no
	// init.lua.
	ErrNoEntryPoint = errors.New("plugin has no init.lua")

	// ErrScriptClosed is returned when calling into a closed script.
	ErrScriptClosed = errors.New("plugin script is closed")
)
