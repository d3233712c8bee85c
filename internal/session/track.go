package session

import "time"

// TrackIdentity is the composite key for "same track" decisions.
// Equality is case-sensitive string equality on both fields.
type TrackIdentity struct {
	Title  string
	Artist string
}

// Valid reports whether the identity is complete enough to track.
func (id TrackIdentity) Valid() bool {
	return id.Title != "" && id.Artist != ""
}

// Track is the resolved metadata for one playing item.
type Track struct {
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
}

// Identity returns the track's identity key.
func (t Track) Identity() TrackIdentity {
	return TrackIdentity{Title: t.Title, Artist: t.Artist}
}

// Update is one now-playing push on the session channel: the current
// track plus playback position, flowing from renderer programs to host
// consumers.
type Update struct {
	// ContextID identifies the originating renderer context.
	ContextID string

	Track    Track
	Position time.Duration
	Duration time.Duration
	Paused   bool

	// StartedAt is when the current track began tracking.
	StartedAt time.Time

	// At is the observation time.
	At time.Time

	// PageURL is the player URL at observation time.
	PageURL string
}

// Publisher is the renderer-facing side of the push channel.
type Publisher interface {
	// Publish delivers a now-playing update.
	Publish(Update)

	// Clear reports that the context lost playback or navigated away.
	Clear(contextID string)
}
