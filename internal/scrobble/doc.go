// Package scrobble submits listening history to external services.
//
// Submitters receive finished observations from the session tracker and
// speak one wire protocol each: the audioscrobbler 2.0 form API and the
// ListenBrainz JSON API. All network traffic and request signing go
// through the host-side proxy so service secrets never reach renderer
// code.
package scrobble
