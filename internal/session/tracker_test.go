package session

import (
	"testing"
	"time"
)

var trackerEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func observation(title, artist string, pos, dur time.Duration, paused bool) Observation {
	return Observation{
		Track:    Track{Title: title, Artist: artist},
		Position: pos,
		Duration: dur,
		Paused:   paused,
	}
}

func actions(ems []Emission) []Action {
	out := make([]Action, 0, len(ems))
	for _, e := range ems {
		out = append(out, e.Action)
	}
	return out
}

func hasAction(ems []Emission, a Action) bool {
	for _, e := range ems {
		if e.Action == a {
			return true
		}
	}
	return false
}

func TestTrackerNewTrackPushesImmediately(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	ems := tr.Observe(observation("Dreams", "Fleetwood Mac", 1*time.Second, 257*time.Second, false), trackerEpoch)
	if len(ems) != 1 || ems[0].Action != ActionNowPlaying {
		t.Fatalf("Observe() emitted %v, want one now-playing", actions(ems))
	}
	if ems[0].StartedAt != trackerEpoch {
		t.Errorf("StartedAt = %v, want observation time", ems[0].StartedAt)
	}
}

func TestTrackerIdentityChangeBypassesThrottle(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	first := tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 257*time.Second, false), trackerEpoch)
	if !hasAction(first, ActionNowPlaying) {
		t.Fatalf("first observation did not push")
	}

	// Two seconds later a different track starts: the push happens even
	// though the throttle window is open.
	now := trackerEpoch.Add(2 * time.Second)
	second := tr.Observe(observation("Gold Dust Woman", "Fleetwood Mac", time.Second, 295*time.Second, false), now)
	if !hasAction(second, ActionNowPlaying) {
		t.Errorf("identity change did not push, got %v", actions(second))
	}
	if second[0].StartedAt != now {
		t.Errorf("StartedAt = %v, want reset to %v", second[0].StartedAt, now)
	}
}

func TestTrackerThrottleWindow(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	obs := observation("Dreams", "Fleetwood Mac", time.Second, 257*time.Second, false)

	tr.Observe(obs, trackerEpoch)

	// Under 30s since the accepted push: suppressed.
	obs.Position = 10 * time.Second
	if ems := tr.Observe(obs, trackerEpoch.Add(10*time.Second)); hasAction(ems, ActionNowPlaying) {
		t.Errorf("push inside throttle window, got %v", actions(ems))
	}

	// At 30s: accepted.
	obs.Position = 30 * time.Second
	if ems := tr.Observe(obs, trackerEpoch.Add(30*time.Second)); !hasAction(ems, ActionNowPlaying) {
		t.Errorf("push at throttle boundary suppressed")
	}

	// The accepted push re-arms the window.
	obs.Position = 40 * time.Second
	if ems := tr.Observe(obs, trackerEpoch.Add(40*time.Second)); hasAction(ems, ActionNowPlaying) {
		t.Errorf("push 10s after accepted push, want suppressed")
	}
}

func TestTrackerTwoTriggersOnePush(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	obs := observation("Dreams", "Fleetwood Mac", time.Second, 257*time.Second, false)

	pushes := 0
	for _, e := range tr.Observe(obs, trackerEpoch) {
		if e.Action == ActionNowPlaying {
			pushes++
		}
	}
	for _, e := range tr.Observe(obs, trackerEpoch.Add(29*time.Second)) {
		if e.Action == ActionNowPlaying {
			pushes++
		}
	}
	if pushes != 1 {
		t.Errorf("two triggers under 30s apart produced %d pushes, want 1", pushes)
	}

	// A third trigger past the window produces the second push.
	for _, e := range tr.Observe(obs, trackerEpoch.Add(31*time.Second)) {
		if e.Action == ActionNowPlaying {
			pushes++
		}
	}
	if pushes != 2 {
		t.Errorf("trigger past 30s produced %d total pushes, want 2", pushes)
	}
}

func TestScrobbleThreshold(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     time.Duration
	}{
		{300 * time.Second, 240 * time.Second},  // half is 150, floor wins
		{1000 * time.Second, 500 * time.Second}, // half wins
		{480 * time.Second, 240 * time.Second},  // boundary
		{0, 240 * time.Second},                  // unknown duration
	}
	for _, tt := range tests {
		if got := ScrobbleThreshold(tt.duration); got != tt.want {
			t.Errorf("ScrobbleThreshold(%v) = %v, want %v", tt.duration, got, tt.want)
		}
	}
}

func TestTrackerScrobblesOncePerIdentity(t *testing.T) {
	tr := NewTracker(TrackerConfig{Scrobble: true})

	tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 300*time.Second, false), trackerEpoch)

	// Below the 240s floor: no scrobble even though past half duration.
	ems := tr.Observe(observation("Dreams", "Fleetwood Mac", 160*time.Second, 300*time.Second, false), trackerEpoch.Add(160*time.Second))
	if hasAction(ems, ActionScrobble) {
		t.Fatalf("scrobbled at 160s of 300s track, threshold is 240s")
	}

	ems = tr.Observe(observation("Dreams", "Fleetwood Mac", 240*time.Second, 300*time.Second, false), trackerEpoch.Add(240*time.Second))
	if !hasAction(ems, ActionScrobble) {
		t.Fatalf("no scrobble at 240s of 300s track")
	}
	for _, e := range ems {
		if e.Action == ActionScrobble && e.StartedAt != trackerEpoch {
			t.Errorf("scrobble StartedAt = %v, want tracking start %v", e.StartedAt, trackerEpoch)
		}
	}

	// Further observations never scrobble the same identity again.
	ems = tr.Observe(observation("Dreams", "Fleetwood Mac", 280*time.Second, 300*time.Second, false), trackerEpoch.Add(280*time.Second))
	if hasAction(ems, ActionScrobble) {
		t.Errorf("second scrobble for the same identity")
	}
}

func TestTrackerScrobbleGuards(t *testing.T) {
	tr := NewTracker(TrackerConfig{Scrobble: true})

	// Position zero never scrobbles, even past any threshold on paper.
	tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 100*time.Second, false), trackerEpoch)
	ems := tr.Observe(observation("Dreams", "Fleetwood Mac", 0, 100*time.Second, false), trackerEpoch.Add(time.Minute))
	if hasAction(ems, ActionScrobble) {
		t.Errorf("scrobbled with position 0")
	}
}

func TestTrackerScrobbleDisabled(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 300*time.Second, false), trackerEpoch)
	ems := tr.Observe(observation("Dreams", "Fleetwood Mac", 250*time.Second, 300*time.Second, false), trackerEpoch.Add(250*time.Second))
	if hasAction(ems, ActionScrobble) {
		t.Errorf("scrobble emitted by non-scrobbling tracker")
	}
}

func TestTrackerResetNoPartialScrobble(t *testing.T) {
	tr := NewTracker(TrackerConfig{Scrobble: true})

	tr.Observe(observation("Dreams", "Fleetwood Mac", 100*time.Second, 300*time.Second, false), trackerEpoch)
	ems := tr.Reset()

	if len(ems) != 1 || ems[0].Action != ActionClear {
		t.Fatalf("Reset() = %v, want single clear", actions(ems))
	}
	if tr.Tracking() {
		t.Errorf("Tracking() = true after reset")
	}
	if ems := tr.Reset(); len(ems) != 0 {
		t.Errorf("second Reset() emitted %v, want nothing", actions(ems))
	}
}

func TestTrackerSameIdentityAfterResetScrobblesAgain(t *testing.T) {
	tr := NewTracker(TrackerConfig{Scrobble: true})

	tr.Observe(observation("Dreams", "Fleetwood Mac", 240*time.Second, 300*time.Second, false), trackerEpoch)
	tr.Observe(observation("Dreams", "Fleetwood Mac", 241*time.Second, 300*time.Second, false), trackerEpoch.Add(time.Second))
	tr.Reset()

	// A new tracking session for the same identity gets its own scrobble.
	tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 300*time.Second, false), trackerEpoch.Add(time.Hour))
	ems := tr.Observe(observation("Dreams", "Fleetwood Mac", 240*time.Second, 300*time.Second, false), trackerEpoch.Add(time.Hour+240*time.Second))
	if !hasAction(ems, ActionScrobble) {
		t.Errorf("no scrobble in a fresh tracking session of the same identity")
	}
}

func TestTrackerInvalidIdentityHoldsState(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 300*time.Second, false), trackerEpoch)
	ems := tr.Observe(observation("", "", 2*time.Second, 300*time.Second, false), trackerEpoch.Add(time.Second))
	if len(ems) != 0 {
		t.Errorf("invalid identity emitted %v, want nothing", actions(ems))
	}
	if !tr.Tracking() {
		t.Errorf("transient metadata gap dropped tracking state")
	}
}

func TestTrackerPauseFlipThrottled(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	tr.Observe(observation("Dreams", "Fleetwood Mac", time.Second, 300*time.Second, false), trackerEpoch)

	// Pause 5s in: a state flip, but the throttle window is open.
	ems := tr.Observe(observation("Dreams", "Fleetwood Mac", 6*time.Second, 300*time.Second, true), trackerEpoch.Add(5*time.Second))
	if hasAction(ems, ActionNowPlaying) {
		t.Errorf("pause flip pushed inside throttle window")
	}

	// Paused steady state: no refresh pushes at all.
	ems = tr.Observe(observation("Dreams", "Fleetwood Mac", 6*time.Second, 300*time.Second, true), trackerEpoch.Add(45*time.Second))
	if hasAction(ems, ActionNowPlaying) {
		t.Errorf("paused steady state pushed a refresh")
	}

	// Resume after the window: pushed.
	ems = tr.Observe(observation("Dreams", "Fleetwood Mac", 6*time.Second, 300*time.Second, false), trackerEpoch.Add(50*time.Second))
	if !hasAction(ems, ActionNowPlaying) {
		t.Errorf("resume past throttle window did not push")
	}
}
