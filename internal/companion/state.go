package companion

import (
	"fmt"
	"time"

	"github.com/sideband-shell/sideband/internal/session"
)

// Play states on the wire. Unknown covers "no song".
const (
	playStateUnknown = 0
	playStatePlaying = 1
	playStatePaused  = 2
)

// State is the wire shape consumed by overlays and remotes.
type State struct {
	Player Player `json:"player"`
	Track  Song   `json:"track"`
}

// Player is the playback half of the state.
type Player struct {
	PlayState                   int     `json:"playState"`
	StatePercent                float64 `json:"statePercent"`
	SeekbarCurrentPosition      int     `json:"seekbarCurrentPosition"`
	SeekbarCurrentPositionHuman string  `json:"seekbarCurrentPositionHuman"`
	HasSong                     bool    `json:"hasSong"`
}

// Song is the metadata half of the state.
type Song struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Album         string `json:"album"`
	Cover         string `json:"cover"`
	URL           string `json:"url"`
	Duration      int    `json:"duration"`
	DurationHuman string `json:"durationHuman"`
}

// buildState converts a session update into the wire shape. has=false
// yields the empty "nothing playing" state.
func buildState(u session.Update, has bool) State {
	if !has {
		return State{
			Player: Player{
				PlayState:                   playStateUnknown,
				SeekbarCurrentPositionHuman: formatClock(0),
			},
			Track: Song{DurationHuman: formatClock(0)},
		}
	}

	playState := playStatePlaying
	if u.Paused {
		playState = playStatePaused
	}

	var percent float64
	if u.Duration > 0 {
		percent = float64(u.Position) / float64(u.Duration)
	}

	return State{
		Player: Player{
			PlayState:                   playState,
			StatePercent:                percent,
			SeekbarCurrentPosition:      int(u.Position.Seconds()),
			SeekbarCurrentPositionHuman: formatClock(u.Position),
			HasSong:                     true,
		},
		Track: Song{
			Title:         u.Track.Title,
			Author:        u.Track.Artist,
			Album:         u.Track.Album,
			Cover:         u.Track.ArtworkURL,
			URL:           u.PageURL,
			Duration:      int(u.Duration.Seconds()),
			DurationHuman: formatClock(u.Duration),
		},
	}
}

// formatClock renders a duration as M:SS with zero-padded seconds.
// Durations of an hour or more keep accumulating minutes.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
