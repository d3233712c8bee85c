package session

import "time"

// Scrobble threshold rules: a track is scrobbled at half its duration,
// but never earlier than four minutes in.
const (
	scrobbleFraction = 0.5
	scrobbleFloor    = 240 * time.Second
)

// DefaultNowPlayingThrottle spaces repeated now-playing pushes for one
// tracker instance.
const DefaultNowPlayingThrottle = 30 * time.Second

// Action is the kind of outbound work a Tracker requests.
type Action int

const (
	// ActionNowPlaying pushes the current track as now playing.
	ActionNowPlaying Action = iota

	// ActionScrobble records the finished-enough track. Fired at most
	// once per identity per tracking session.
	ActionScrobble

	// ActionClear reports that tracking stopped without a scrobble.
	ActionClear
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionNowPlaying:
		return "now-playing"
	case ActionScrobble:
		return "scrobble"
	case ActionClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Observation is one reading of the player, assembled by the caller
// from resolved metadata and media element state.
type Observation struct {
	Track    Track
	Position time.Duration
	Duration time.Duration
	Paused   bool
}

// Emission is one action requested by the Tracker.
type Emission struct {
	Action    Action
	Track     Track
	Position  time.Duration
	Duration  time.Duration
	Paused    bool
	StartedAt time.Time
}

// TrackerConfig tunes one Tracker instance.
type TrackerConfig struct {
	// NowPlayingThrottle is the minimum spacing between accepted
	// now-playing pushes. Zero means DefaultNowPlayingThrottle.
	NowPlayingThrottle time.Duration

	// Scrobble enables the scrobble-once transition.
	Scrobble bool
}

// Tracker is the per-integration session state machine. It is not safe
// for concurrent use; each integration drives its own instance from its
// context loop (or equivalent single goroutine).
type Tracker struct {
	cfg TrackerConfig

	tracking  bool
	identity  TrackIdentity
	track     Track
	startedAt time.Time
	scrobbled bool
	lastPush  time.Time
	paused    bool
}

// NewTracker creates an idle tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.NowPlayingThrottle <= 0 {
		cfg.NowPlayingThrottle = DefaultNowPlayingThrottle
	}
	return &Tracker{cfg: cfg}
}

// Tracking reports whether a track is currently being followed.
func (t *Tracker) Tracking() bool { return t.tracking }

// Current returns the tracked track, ok=false when idle.
func (t *Tracker) Current() (Track, bool) {
	return t.track, t.tracking
}

// Observe feeds one reading into the machine and returns the actions to
// perform, in order. An observation without a valid identity holds the
// current state: transient metadata gaps while the page re-renders must
// not thrash tracking. Use Reset for definite loss.
func (t *Tracker) Observe(obs Observation, now time.Time) []Emission {
	identity := obs.Track.Identity()
	if !identity.Valid() {
		return nil
	}

	var out []Emission

	if !t.tracking || identity != t.identity {
		// New track: replace state wholesale and push immediately. The
		// push is a state-changing event, not a refresh, so the
		// throttle does not apply.
		t.tracking = true
		t.identity = identity
		t.track = obs.Track
		t.startedAt = now
		t.scrobbled = false
		t.lastPush = now
		t.paused = obs.Paused
		return append(out, t.emission(ActionNowPlaying, obs))
	}

	// Same track: keep the freshest metadata (artwork can resolve late).
	t.track = obs.Track

	if t.cfg.Scrobble && !t.scrobbled && t.readyToScrobble(obs) {
		t.scrobbled = true
		out = append(out, t.emission(ActionScrobble, obs))
	}

	pauseFlip := obs.Paused != t.paused
	t.paused = obs.Paused

	// Refresh pushes repeat while playing (or on a pause flip) but are
	// throttled per instance.
	if !obs.Paused || pauseFlip {
		if now.Sub(t.lastPush) >= t.cfg.NowPlayingThrottle {
			t.lastPush = now
			out = append(out, t.emission(ActionNowPlaying, obs))
		}
	}

	return out
}

// Reset drops to idle: navigation away, or both identity and media were
// lost. No partial scrobble is fired on abandonment. Returns a clear
// emission when something was being tracked.
func (t *Tracker) Reset() []Emission {
	if !t.tracking {
		return nil
	}
	track := t.track
	*t = Tracker{cfg: t.cfg}
	return []Emission{{Action: ActionClear, Track: track}}
}

// readyToScrobble checks the threshold: position has reached the
// greater of half the duration or the four-minute floor. Guards: a
// positive position and a captured start timestamp, so stale state
// never fires.
func (t *Tracker) readyToScrobble(obs Observation) bool {
	if obs.Position <= 0 || t.startedAt.IsZero() {
		return false
	}
	return obs.Position >= ScrobbleThreshold(obs.Duration)
}

// ScrobbleThreshold returns the position a track must reach to
// scrobble: max(duration/2, four minutes).
func ScrobbleThreshold(duration time.Duration) time.Duration {
	half := time.Duration(float64(duration) * scrobbleFraction)
	if half < scrobbleFloor {
		return scrobbleFloor
	}
	return half
}

func (t *Tracker) emission(a Action, obs Observation) Emission {
	return Emission{
		Action:    a,
		Track:     t.track,
		Position:  obs.Position,
		Duration:  obs.Duration,
		Paused:    obs.Paused,
		StartedAt: t.startedAt,
	}
}
