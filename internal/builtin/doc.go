// Package builtin ships the plugins compiled into the shell: the
// session publisher that scrapes now-playing state off the player page,
// the adskip cosmetic plugin, and the scrobbler, presence, and
// companion integrations consuming the session feed.
//
// The renderer-side halves are ordinary programs registered through
// RegisterPrograms; the host-side halves implement the plugin contract
// and are registered with the plugin host like any scripted plugin.
package builtin
