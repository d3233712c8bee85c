package scrobble

import (
	"context"
	"time"
)

// Track is one submission payload. StartedAt is required for Scrobble
// and ignored for NowPlaying.
type Track struct {
	Title     string
	Artist    string
	Album     string
	Duration  time.Duration
	StartedAt time.Time
}

// Submitter is one listening-history backend.
type Submitter interface {
	// Name identifies the backend in logs and configuration.
	Name() string

	// NowPlaying reports the track currently playing.
	NowPlaying(ctx context.Context, t Track) error

	// Scrobble records a finished (threshold-crossing) listen.
	Scrobble(ctx context.Context, t Track) error
}
