// Package plugin defines the plugin contract and the host that drives
// plugin lifecycles.
//
// A plugin is any value implementing Plugin plus whichever optional
// hook interfaces it needs; absent hooks are no-ops. There is no base
// type to embed; variants are independent implementations selected
// from the host's registry.
//
// The Host owns the registered set, each plugin's last known enablement
// state, and the live renderer contexts. Process events (host ready,
// context created, content loaded, context destroyed) fan out to
// enabled plugins sequentially in registration order; a hook error or
// panic is caught, logged, and never blocks dispatch to the remaining
// plugins.
//
// Configuration writes flow through the config store and bounce back as
// change notifications; the host reacts to those in one place, so
// programmatic changes, settings-UI writes, and external edits of the
// store file all drive the same hook dispatch.
package plugin
