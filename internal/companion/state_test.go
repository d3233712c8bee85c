package companion

import (
	"testing"
	"time"

	"github.com/sideband-shell/sideband/internal/session"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{9 * time.Second, "0:09"},
		{59 * time.Second, "0:59"},
		{60 * time.Second, "1:00"},
		{83 * time.Second, "1:23"},
		{200 * time.Second, "3:20"},
		{3600 * time.Second, "60:00"},
		{-5 * time.Second, "0:00"},
	}
	for _, tt := range tests {
		if got := formatClock(tt.d); got != tt.want {
			t.Errorf("formatClock(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestBuildStateEmpty(t *testing.T) {
	st := buildState(session.Update{}, false)

	if st.Player.PlayState != playStateUnknown {
		t.Errorf("PlayState = %d, want %d", st.Player.PlayState, playStateUnknown)
	}
	if st.Player.HasSong {
		t.Error("HasSong = true with nothing playing")
	}
	if st.Player.SeekbarCurrentPositionHuman != "0:00" {
		t.Errorf("position human = %q", st.Player.SeekbarCurrentPositionHuman)
	}
}

func TestBuildStatePlaying(t *testing.T) {
	u := session.Update{
		Track:    session.Track{Title: "Song One", Artist: "Artist One", Album: "Album One", ArtworkURL: "https://img/x.jpg"},
		Position: 100 * time.Second,
		Duration: 200 * time.Second,
		PageURL:  "https://music.example.com/watch?v=1",
	}
	st := buildState(u, true)

	if st.Player.PlayState != playStatePlaying {
		t.Errorf("PlayState = %d, want %d", st.Player.PlayState, playStatePlaying)
	}
	if st.Player.StatePercent != 0.5 {
		t.Errorf("StatePercent = %v, want 0.5", st.Player.StatePercent)
	}
	if st.Player.SeekbarCurrentPosition != 100 {
		t.Errorf("SeekbarCurrentPosition = %d", st.Player.SeekbarCurrentPosition)
	}
	if st.Track.Author != "Artist One" || st.Track.Cover != "https://img/x.jpg" {
		t.Errorf("track = %+v", st.Track)
	}
	if st.Track.DurationHuman != "3:20" {
		t.Errorf("DurationHuman = %q", st.Track.DurationHuman)
	}
}

func TestBuildStatePaused(t *testing.T) {
	u := session.Update{
		Track:  session.Track{Title: "Song", Artist: "Artist"},
		Paused: true,
	}
	st := buildState(u, true)
	if st.Player.PlayState != playStatePaused {
		t.Errorf("PlayState = %d, want %d", st.Player.PlayState, playStatePaused)
	}
}

func TestBuildStatePercentGuard(t *testing.T) {
	u := session.Update{
		Track:    session.Track{Title: "Song", Artist: "Artist"},
		Position: 30 * time.Second,
		Duration: 0,
	}
	st := buildState(u, true)
	if st.Player.StatePercent != 0 {
		t.Errorf("StatePercent = %v with zero duration, want 0", st.Player.StatePercent)
	}
}
