// Package session tracks what the player is playing.
//
// The package is deliberately free of page and network concerns: a
// Tracker is a pure state machine fed Observations with explicit
// timestamps, emitting the actions an integration must perform
// (now-playing pushes, a single scrobble per track, clears). Each
// integration owns its own Tracker instance; throttling and
// scrobble-once bookkeeping are per instance.
//
// A Resolver applies the metadata source priority policy: structured
// metadata is preferred over scraped player-bar text, with document
// title parsing as the last resort. The order is configuration, not a
// hard contract, because the underlying page drifts.
//
// The Feed is the host-side push channel: renderer programs publish
// now-playing updates into it and host consumers (the companion server,
// anything else interested) subscribe.
package session
