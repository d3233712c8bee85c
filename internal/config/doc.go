// Package config provides the configuration system for Sideband.
//
// Configuration is split into two layers that serve different writers:
//
//   - App config: operator-edited TOML (player URL, plugin directory,
//     log level). Read once at startup, overridable through SIDEBAND_*
//     environment variables. See App and LoadApp.
//
//   - Plugin store: a machine-written JSON document holding the enabled
//     flag and settings for every plugin, addressed by path
//     (plugins.<name>.enabled, plugins.<name>.settings.<key>). The store
//     merges author defaults under persisted overrides, hands out
//     deep-copied snapshots, persists atomically, and notifies observers
//     of changes. See Store.
//
// The settings UI and external tools edit the same JSON file the store
// persists; Store.Watch picks up such edits and replays them as reload
// notifications.
package config
