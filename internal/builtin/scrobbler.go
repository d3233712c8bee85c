package builtin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/proxy"
	"github.com/sideband-shell/sideband/internal/scrobble"
	"github.com/sideband-shell/sideband/internal/session"
)

const scrobblerName = "scrobbler"

const (
	// submitTimeout bounds one outbound submission; expiry is failure,
	// not an indefinite hang.
	submitTimeout = 10 * time.Second

	// submitQueueSize buffers emissions between the feed and the
	// submission worker. Overflow drops; the next trigger retries.
	submitQueueSize = 16
)

// Scrobbler relays session feed events to listening-history services.
// One tracker instance per context decides when to push now-playing and
// when the scrobble threshold is crossed; submissions run on a worker
// goroutine so network latency never stalls the feed.
type Scrobbler struct {
	feed   *session.Feed
	broker *proxy.Broker
	log    *slog.Logger

	invoker proxy.Invoker
	done    chan struct{}

	mu         sync.Mutex
	cfg        config.Snapshot
	submitters []scrobble.Submitter
	trackers   map[string]*session.Tracker
	unsub      func()
	jobs       chan submitJob
	running    bool
	closed     bool
}

type submitJob struct {
	emission   session.Emission
	submitters []scrobble.Submitter
	nowPlaying bool
}

var (
	_ plugin.Plugin       = (*Scrobbler)(nil)
	_ plugin.Configurable = (*Scrobbler)(nil)
	_ plugin.ReadyHook    = (*Scrobbler)(nil)
	_ plugin.ConfigHook   = (*Scrobbler)(nil)
	_ plugin.DisableHook  = (*Scrobbler)(nil)
)

// NewScrobbler creates the plugin. The broker holds the signing secret;
// submissions go out through a proxy client so credentials stay host
// side. A nil logger uses the default.
func NewScrobbler(feed *session.Feed, broker *proxy.Broker, log *slog.Logger) *Scrobbler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scrobbler{
		feed:     feed,
		broker:   broker,
		log:      log.With("plugin", scrobblerName),
		done:     make(chan struct{}),
		trackers: make(map[string]*session.Tracker),
	}
	s.invoker = broker.Client(scrobblerName, s.done)
	s.cfg = seedSnapshot(scrobblerName, s.DefaultConfig())
	s.rebuild(s.cfg)
	return s
}

func (s *Scrobbler) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        scrobblerName,
		Description: "Submits listening history to a scrobbling service.",
		Version:     Version,
	}
}

func (s *Scrobbler) DefaultConfig() map[string]any {
	return map[string]any{
		"enabled":     false,
		"service":     "audioscrobbler",
		"api_key":     "",
		"api_secret":  "",
		"session_key": "",
		"token":       "",
		"api_url":     "",
		"now_playing": true,
	}
}

// OnHostReady subscribes to the session feed and starts the submission
// worker.
func (s *Scrobbler) OnHostReady(context.Context) error {
	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.jobs = make(chan submitJob, submitQueueSize)
	jobs := s.jobs
	s.unsub = s.feed.Subscribe(scrobblerName, s.onFeed)
	s.mu.Unlock()

	go s.worker(jobs)
	return nil
}

func (s *Scrobbler) OnConfigChanged(_ context.Context, cfg config.Snapshot) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.rebuild(cfg)
	return nil
}

// OnDisabled stops consuming the feed and discards tracking state. No
// clear is sent to the services; scrobbling simply stops.
func (s *Scrobbler) OnDisabled(context.Context) error {
	s.stop()
	return nil
}

// Close releases the worker and expires the proxy client. For process
// shutdown; a closed Scrobbler stays stopped.
func (s *Scrobbler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	close(s.done)
}

func (s *Scrobbler) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unsub := s.unsub
	s.unsub = nil
	jobs := s.jobs
	s.jobs = nil
	s.trackers = make(map[string]*session.Tracker)
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	close(jobs)
}

// rebuild reconfigures the signing secret and the active submitter set.
func (s *Scrobbler) rebuild(cfg config.Snapshot) {
	if secret := cfg.String("api_secret", ""); secret != "" {
		s.broker.RegisterSecret(scrobblerName, secret)
	}

	var subs []scrobble.Submitter
	switch service := cfg.String("service", "audioscrobbler"); service {
	case "audioscrobbler":
		subs = append(subs, scrobble.NewAudioScrobbler(s.invoker, scrobble.AudioScrobblerConfig{
			APIKey:     cfg.String("api_key", ""),
			SessionKey: cfg.String("session_key", ""),
			URL:        cfg.String("api_url", ""),
		}, s.log))
	case "listenbrainz":
		subs = append(subs, scrobble.NewListenBrainz(s.invoker, scrobble.ListenBrainzConfig{
			Token: cfg.String("token", ""),
			URL:   cfg.String("api_url", ""),
		}, s.log))
	case "none", "":
		// Submissions off; the feed is still consumed so state stays
		// warm for a later service switch.
	default:
		s.log.Warn("unknown scrobble service", "service", service)
	}

	s.mu.Lock()
	s.submitters = subs
	s.mu.Unlock()
}

// onFeed runs one feed event through the owning context's tracker and
// enqueues the requested submissions. Runs synchronously on the
// publishing goroutine, so everything slow is deferred to the worker.
func (s *Scrobbler) onFeed(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	var emissions []session.Emission
	switch ev.Kind {
	case session.EventNowPlaying:
		u := ev.Update
		emissions = s.trackerLocked(u.ContextID).Observe(session.Observation{
			Track:    u.Track,
			Position: u.Position,
			Duration: u.Duration,
			Paused:   u.Paused,
		}, u.At)
	case session.EventCleared:
		if t, ok := s.trackers[ev.Update.ContextID]; ok {
			emissions = t.Reset()
			delete(s.trackers, ev.Update.ContextID)
		}
	}

	nowPlaying := s.cfg.Bool("now_playing", true)
	for _, em := range emissions {
		if em.Action == session.ActionClear {
			// Nothing to send on abandonment.
			continue
		}
		job := submitJob{emission: em, submitters: s.submitters, nowPlaying: nowPlaying}
		select {
		case s.jobs <- job:
		default:
			s.log.Warn("submission queue full, dropping", "action", em.Action.String())
		}
	}
}

// trackerLocked returns the context's tracker, creating it on first
// use. Caller holds mu.
func (s *Scrobbler) trackerLocked(contextID string) *session.Tracker {
	t, ok := s.trackers[contextID]
	if !ok {
		t = session.NewTracker(session.TrackerConfig{Scrobble: true})
		s.trackers[contextID] = t
	}
	return t
}

func (s *Scrobbler) worker(jobs <-chan submitJob) {
	for job := range jobs {
		s.submit(job)
	}
}

func (s *Scrobbler) submit(job submitJob) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	em := job.emission
	t := scrobble.Track{
		Title:     em.Track.Title,
		Artist:    em.Track.Artist,
		Album:     em.Track.Album,
		Duration:  em.Duration,
		StartedAt: em.StartedAt,
	}
	for _, sub := range job.submitters {
		var err error
		switch em.Action {
		case session.ActionNowPlaying:
			if !job.nowPlaying {
				continue
			}
			err = sub.NowPlaying(ctx, t)
		case session.ActionScrobble:
			err = sub.Scrobble(ctx, t)
		default:
			continue
		}
		switch {
		case err == nil:
			if em.Action == session.ActionScrobble {
				s.log.Info("scrobbled", "service", sub.Name(), "title", t.Title, "artist", t.Artist)
			}
		case errors.Is(err, scrobble.ErrNotConfigured):
			s.log.Debug("service not configured", "service", sub.Name())
		default:
			// Skipped for this cycle; the next trigger retries naturally.
			s.log.Warn("submission failed",
				"service", sub.Name(), "action", em.Action.String(), "error", err)
		}
	}
}
