package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
	"github.com/sideband-shell/sideband/internal/session"
)

// Player-bar scraping defaults for the stock player page. All of them
// are page-dependent heuristics and overridable per setting.
const (
	defaultTitleSelector   = ".title.ytmusic-player-bar"
	defaultArtistSelector  = ".byline.ytmusic-player-bar a"
	defaultArtworkSelector = ".image.ytmusic-player-bar"
	defaultArtworkAttr     = "src"

	defaultSessionPoll = time.Second
)

func defaultTitleSuffixes() []string {
	return []string{"YouTube Music"}
}

// sessionProgram is the renderer half of the session push channel: it
// resolves track identity from the page on every media tick and mirrors
// the reading into the host feed. Identity resolution walks the
// configured source order; integrations downstream run their own state
// machines over the published updates.
type sessionProgram struct {
	rt       *renderer.Runtime
	resolver session.Resolver

	titleSelector   string
	artistSelector  string
	albumSelector   string
	artworkSelector string
	artworkAttr     string
	titleSuffixes   []string

	cancelPoll  func()
	cancelFound func()
	cancelLost  func()
	cancelNav   func()

	tracking  bool
	identity  session.TrackIdentity
	startedAt time.Time
	last      session.Update
}

func (p *sessionProgram) Start(rt *renderer.Runtime) error {
	if rt.Session == nil {
		return fmt.Errorf("session-tracker %s: no session publisher", rt.Plugin)
	}
	p.rt = rt
	p.resolver = session.Resolver{Order: rt.Config.Strings("metadata_priority", nil)}
	p.titleSelector = rt.Config.String("title_selector", defaultTitleSelector)
	p.artistSelector = rt.Config.String("artist_selector", defaultArtistSelector)
	p.albumSelector = rt.Config.String("album_selector", "")
	p.artworkSelector = rt.Config.String("artwork_selector", defaultArtworkSelector)
	p.artworkAttr = rt.Config.String("artwork_attr", defaultArtworkAttr)
	p.titleSuffixes = rt.Config.Strings("title_suffixes", defaultTitleSuffixes())

	interval := defaultSessionPoll
	if ms := rt.Config.Int("poll_ms", 0); ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}

	p.cancelPoll = rt.Context.Every(interval, p.tick)
	p.cancelFound = rt.Watch.OnMediaFound(func(st renderer.MediaState) { p.observe(st) })
	p.cancelLost = rt.Watch.OnMediaLost(p.lost)
	// Route changes usually precede a metadata swap; re-read promptly
	// instead of waiting out the poll interval.
	p.cancelNav = rt.Watch.OnNavigate(func(string) { p.tick() })
	return nil
}

func (p *sessionProgram) Stop() {
	if p.rt == nil {
		return
	}
	p.cancelPoll()
	p.cancelFound()
	p.cancelLost()
	p.cancelNav()
	p.lost()
	p.rt = nil
}

func (p *sessionProgram) tick() {
	st, ok := p.rt.Watch.Media()
	if !ok {
		return
	}
	p.observe(st)
}

func (p *sessionProgram) observe(st renderer.MediaState) {
	track, ok := p.resolve()
	if !ok {
		// Transient metadata gap while the page re-renders. Hold the
		// current state; media loss is what clears.
		return
	}

	now := time.Now()
	identity := track.Identity()
	if !p.tracking || identity != p.identity {
		p.identity = identity
		p.startedAt = now
	}

	u := session.Update{
		ContextID: p.rt.Context.ID(),
		Track:     track,
		Position:  st.Position,
		Duration:  st.Duration,
		Paused:    st.Paused,
		StartedAt: p.startedAt,
		At:        now,
		PageURL:   p.rt.Context.URL(),
	}
	if p.tracking && sameReading(p.last, u) {
		return
	}
	p.tracking = true
	p.last = u
	p.rt.Session.Publish(u)
}

// lost clears host-side state for this context. Called on media loss
// and on program stop.
func (p *sessionProgram) lost() {
	if !p.tracking {
		return
	}
	p.tracking = false
	p.identity = session.TrackIdentity{}
	p.startedAt = time.Time{}
	p.last = session.Update{}
	p.rt.Session.Clear(p.rt.Context.ID())
}

// resolve gathers one candidate per metadata source and applies the
// configured priority order.
func (p *sessionProgram) resolve() (session.Track, bool) {
	page := p.rt.Context.Page()
	c := session.Candidates{}

	if reader, ok := page.(renderer.MetadataReader); ok {
		if md, found := reader.Metadata(); found {
			c[session.SourceMediaSession] = session.Track{
				Title:      md.Title,
				Artist:     md.Artist,
				Album:      md.Album,
				ArtworkURL: md.ArtworkURL,
			}
		}
	}
	if t, found := p.scrapePlayerBar(page); found {
		c[session.SourcePlayerBar] = t
	}
	if t, found := session.ParseDocumentTitle(page.Title(), p.titleSuffixes); found {
		c[session.SourceDocumentTitle] = t
	}

	return p.resolver.Resolve(c)
}

func (p *sessionProgram) scrapePlayerBar(page renderer.Page) (session.Track, bool) {
	title, ok := page.QueryText(p.titleSelector)
	if !ok || title == "" {
		return session.Track{}, false
	}
	t := session.Track{Title: title}
	if artist, found := page.QueryText(p.artistSelector); found {
		t.Artist = artist
	}
	if p.albumSelector != "" {
		if album, found := page.QueryText(p.albumSelector); found {
			t.Album = album
		}
	}
	if p.artworkSelector != "" {
		if src, found := page.QueryAttr(p.artworkSelector, p.artworkAttr); found {
			t.ArtworkURL = src
		}
	}
	return t, t.Identity().Valid()
}

// sameReading reports whether two updates carry the same payload,
// ignoring observation time. A paused player produces identical
// readings every tick; republishing them is noise.
func sameReading(a, b session.Update) bool {
	return a.Track == b.Track &&
		a.Position == b.Position &&
		a.Duration == b.Duration &&
		a.Paused == b.Paused
}

const sessionName = "session"

// Session is the host half of the session channel: it keeps the
// session-tracker program injected on matching pages so the feed always
// reflects the player. The scrobbler, presence, and companion built-ins
// consume the feed and are inert without this plugin.
type Session struct {
	gate *pageGate
}

var (
	_ plugin.Plugin       = (*Session)(nil)
	_ plugin.Configurable = (*Session)(nil)
	_ plugin.ContextHook  = (*Session)(nil)
	_ plugin.ContentHook  = (*Session)(nil)
	_ plugin.ConfigHook   = (*Session)(nil)
	_ plugin.DisableHook  = (*Session)(nil)
	_ plugin.TeardownHook = (*Session)(nil)
)

// NewSession creates the plugin. A nil logger uses the default.
func NewSession(injector *inject.Injector, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{}
	s.gate = newPageGate(sessionName, injector, s.unit, s.DefaultConfig(), log.With("plugin", sessionName))
	return s
}

func (s *Session) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        sessionName,
		Description: "Publishes now-playing state scraped from the player page.",
		Version:     Version,
	}
}

func (s *Session) DefaultConfig() map[string]any {
	return map[string]any{
		"pages":             []string{"*music.youtube.com*"},
		"metadata_priority": session.DefaultSourceOrder(),
		"title_selector":    defaultTitleSelector,
		"artist_selector":   defaultArtistSelector,
		"album_selector":    "",
		"artwork_selector":  defaultArtworkSelector,
		"artwork_attr":      defaultArtworkAttr,
		"title_suffixes":    defaultTitleSuffixes(),
		"poll_ms":           1000,
	}
}

func (s *Session) unit(cfg config.Snapshot) inject.Unit {
	return inject.Unit{
		Plugin:   sessionName,
		Behavior: BehaviorSession,
		Config:   cfg,
	}
}

func (s *Session) OnConfigChanged(_ context.Context, cfg config.Snapshot) error {
	s.gate.setConfig(cfg)
	return nil
}

func (s *Session) OnContextCreated(_ context.Context, rc *renderer.Context) error {
	s.gate.addContext(rc)
	return nil
}

func (s *Session) OnContentLoaded(_ context.Context, rc *renderer.Context) error {
	s.gate.addContext(rc)
	return nil
}

func (s *Session) OnContextDestroyed(_ context.Context, rc *renderer.Context) error {
	s.gate.removeContext(rc)
	return nil
}

func (s *Session) OnDisabled(context.Context) error {
	s.gate.ejectAll()
	return nil
}
