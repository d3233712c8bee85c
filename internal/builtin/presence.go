package builtin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/presence"
	"github.com/sideband-shell/sideband/internal/session"
)

const presenceName = "presence"

// presenceOps buffers sink calls between the feed and the broadcast
// worker; bridge writes must not stall feed delivery.
const presenceOps = 16

// presenceSink is the bridge client surface the plugin drives. The
// concrete client reconnects on its own; the plugin only replaces it
// when the gateway settings change.
type presenceSink interface {
	Start()
	Stop()
	SetActivity(presence.Activity)
	ClearActivity()
}

var _ presenceSink = (*presence.Client)(nil)

// Presence mirrors the session feed onto the local presence bridge. A
// per-context tracker throttles refreshes; the most recent context to
// emit owns the activity card.
type Presence struct {
	feed *session.Feed
	log  *slog.Logger

	// newSink builds a bridge client for the given config; swapped in
	// tests. The client is rebuilt per enable cycle because a stopped
	// client does not restart.
	newSink func(cfg config.Snapshot, log *slog.Logger) presenceSink

	mu       sync.Mutex
	cfg      config.Snapshot
	sink     presenceSink
	trackers map[string]*session.Tracker
	unsub    func()
	ops      chan func()
	running  bool
	showing  string
	last     *presence.Activity
}

var (
	_ plugin.Plugin       = (*Presence)(nil)
	_ plugin.Configurable = (*Presence)(nil)
	_ plugin.ReadyHook    = (*Presence)(nil)
	_ plugin.ConfigHook   = (*Presence)(nil)
	_ plugin.DisableHook  = (*Presence)(nil)
)

// NewPresence creates the plugin. A nil logger uses the default.
func NewPresence(feed *session.Feed, log *slog.Logger) *Presence {
	if log == nil {
		log = slog.Default()
	}
	p := &Presence{
		feed:     feed,
		log:      log.With("plugin", presenceName),
		newSink:  newPresenceClient,
		trackers: make(map[string]*session.Tracker),
	}
	p.cfg = seedSnapshot(presenceName, p.DefaultConfig())
	return p
}

func newPresenceClient(cfg config.Snapshot, log *slog.Logger) presenceSink {
	opts := []presence.Option{
		presence.WithURL(cfg.String("gateway_url", presence.DefaultURL)),
		presence.WithLogger(log),
	}
	if s := cfg.Int("clear_after_pause_s", 0); s > 0 {
		opts = append(opts, presence.WithClearAfterPause(time.Duration(s)*time.Second))
	}
	return presence.New(opts...)
}

func (p *Presence) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        presenceName,
		Description: "Broadcasts the playing track to the local presence bridge.",
		Version:     Version,
	}
}

func (p *Presence) DefaultConfig() map[string]any {
	return map[string]any{
		"enabled":             false,
		"gateway_url":         presence.DefaultURL,
		"clear_after_pause_s": 60,
		"update_throttle_s":   5,
	}
}

// OnHostReady builds the bridge client and starts mirroring the feed.
func (p *Presence) OnHostReady(context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.sink = p.newSink(p.cfg, p.log)
	p.ops = make(chan func(), presenceOps)
	ops := p.ops
	sink := p.sink
	p.unsub = p.feed.Subscribe(presenceName, p.onFeed)
	p.mu.Unlock()

	sink.Start()
	go func() {
		for op := range ops {
			op()
		}
	}()
	return nil
}

// OnConfigChanged rebuilds the bridge client when its settings moved;
// the current activity is replayed onto the new client.
func (p *Presence) OnConfigChanged(_ context.Context, cfg config.Snapshot) error {
	p.mu.Lock()
	old := p.cfg
	p.cfg = cfg
	if !p.running || sameGateway(old, cfg) {
		p.mu.Unlock()
		return nil
	}
	oldSink := p.sink
	p.sink = p.newSink(cfg, p.log)
	sink := p.sink
	last := p.last
	p.mu.Unlock()

	oldSink.Stop()
	sink.Start()
	if last != nil {
		sink.SetActivity(*last)
	}
	return nil
}

func sameGateway(a, b config.Snapshot) bool {
	return a.String("gateway_url", presence.DefaultURL) == b.String("gateway_url", presence.DefaultURL) &&
		a.Int("clear_after_pause_s", 0) == b.Int("clear_after_pause_s", 0)
}

// OnDisabled clears the card and shuts the bridge client down.
func (p *Presence) OnDisabled(context.Context) error {
	p.stop()
	return nil
}

// Close is OnDisabled for process shutdown.
func (p *Presence) Close() {
	p.stop()
}

func (p *Presence) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	unsub := p.unsub
	p.unsub = nil
	sink := p.sink
	p.sink = nil
	ops := p.ops
	p.ops = nil
	p.trackers = make(map[string]*session.Tracker)
	p.showing = ""
	p.last = nil
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	// Through the queue so it lands after any updates still draining.
	ops <- func() {
		sink.ClearActivity()
		sink.Stop()
	}
	close(ops)
}

func (p *Presence) onFeed(ev session.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	switch ev.Kind {
	case session.EventNowPlaying:
		u := ev.Update
		emissions := p.trackerLocked(u.ContextID).Observe(session.Observation{
			Track:    u.Track,
			Position: u.Position,
			Duration: u.Duration,
			Paused:   u.Paused,
		}, u.At)
		for _, em := range emissions {
			if em.Action != session.ActionNowPlaying {
				continue
			}
			p.showLocked(u.ContextID, em)
		}
	case session.EventCleared:
		id := ev.Update.ContextID
		if t, ok := p.trackers[id]; ok {
			t.Reset()
			delete(p.trackers, id)
		}
		if p.showing != id {
			return
		}
		p.showing = ""
		p.last = nil
		sink := p.sink
		p.enqueueLocked(func() { sink.ClearActivity() })
	}
}

// showLocked maps an emission onto the activity card. Caller holds mu.
func (p *Presence) showLocked(contextID string, em session.Emission) {
	a := presence.Activity{
		Details:    em.Track.Title,
		State:      em.Track.Artist,
		LargeImage: em.Track.ArtworkURL,
		// Deriving the start from the position keeps the elapsed
		// display honest across seeks.
		StartedAt: time.Now().Add(-em.Position),
		Paused:    em.Paused,
	}
	p.showing = contextID
	p.last = &a
	sink := p.sink
	p.enqueueLocked(func() { sink.SetActivity(a) })
}

func (p *Presence) enqueueLocked(op func()) {
	select {
	case p.ops <- op:
	default:
		p.log.Warn("presence queue full, dropping update")
	}
}

func (p *Presence) trackerLocked(contextID string) *session.Tracker {
	t, ok := p.trackers[contextID]
	if !ok {
		throttle := time.Duration(p.cfg.Int("update_throttle_s", 5)) * time.Second
		t = session.NewTracker(session.TrackerConfig{NowPlayingThrottle: throttle})
		p.trackers[contextID] = t
	}
	return t
}
