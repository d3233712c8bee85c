package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sideband-shell/sideband/internal/renderer"
)

const (
	// defaultSearchInterval is the media poll cadence while no element
	// is mounted. Discovery latency matters here.
	defaultSearchInterval = time.Second

	// defaultSettledInterval is the relaxed cadence once an element is
	// present; subscribers were already told, polling only tracks loss.
	defaultSettledInterval = 5 * time.Second

	// defaultNavInterval is the URL probe cadence, a fallback for route
	// changes the page backend never reports as events.
	defaultNavInterval = time.Second
)

// Watcher observes one context's page: URL changes deduplicated against
// the last seen value, and media element presence with found/lost
// edges. It satisfies renderer.Discovery.
type Watcher struct {
	rc  *renderer.Context
	log *slog.Logger

	searchInterval  time.Duration
	settledInterval time.Duration
	navInterval     time.Duration

	mu        sync.Mutex
	stopped   bool
	lastURL   string
	media     renderer.MediaState
	haveMedia bool
	nextID    int
	navSubs   map[int]func(string)
	foundSubs map[int]func(renderer.MediaState)
	lostSubs  map[int]func()

	cancelNavPoll   func()
	cancelMediaPoll func()
	unsubEvents     func()
}

var _ renderer.Discovery = (*Watcher)(nil)

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithIntervals overrides the polling cadences. Zero values keep the
// defaults.
func WithIntervals(search, settled, nav time.Duration) Option {
	return func(w *Watcher) {
		if search > 0 {
			w.searchInterval = search
		}
		if settled > 0 {
			w.settledInterval = settled
		}
		if nav > 0 {
			w.navInterval = nav
		}
	}
}

// New creates a watcher bound to a context and starts observing
// immediately. Call Stop to release it; it also dies with the context.
func New(rc *renderer.Context, opts ...Option) *Watcher {
	w := &Watcher{
		rc:              rc,
		log:             slog.Default(),
		searchInterval:  defaultSearchInterval,
		settledInterval: defaultSettledInterval,
		navInterval:     defaultNavInterval,
		lastURL:         rc.URL(),
		navSubs:         make(map[int]func(string)),
		foundSubs:       make(map[int]func(renderer.MediaState)),
		lostSubs:        make(map[int]func()),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "watch", "context", rc.ID())

	w.unsubEvents = rc.OnEvent(w.onPageEvent)
	w.cancelNavPoll = rc.Every(w.navInterval, w.probeURL)
	w.schedulePoll(0)
	return w
}

// Stop halts polling and drops all subscribers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancelMedia := w.cancelMediaPoll
	w.navSubs = map[int]func(string){}
	w.foundSubs = map[int]func(renderer.MediaState){}
	w.lostSubs = map[int]func(){}
	w.mu.Unlock()

	w.unsubEvents()
	w.cancelNavPoll()
	if cancelMedia != nil {
		cancelMedia()
	}
}

// OnNavigate subscribes to distinct-URL changes. The callback fires at
// most once per URL value; returning to a previous URL fires again.
func (w *Watcher) OnNavigate(fn func(url string)) (cancel func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.navSubs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.navSubs, id)
	}
}

// OnMediaFound subscribes to media discovery. A subscriber arriving
// while an element is already present is invoked immediately with the
// latest reading.
func (w *Watcher) OnMediaFound(fn func(renderer.MediaState)) (cancel func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.foundSubs[id] = fn
	have := w.haveMedia
	st := w.media
	w.mu.Unlock()

	if have {
		fn(st)
	}
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.foundSubs, id)
	}
}

// OnMediaLost subscribes to media disappearance.
func (w *Watcher) OnMediaLost(fn func()) (cancel func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.lostSubs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.lostSubs, id)
	}
}

// Media returns the latest reading, ok=false while searching.
func (w *Watcher) Media() (renderer.MediaState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.media, w.haveMedia
}

func (w *Watcher) onPageEvent(ev renderer.PageEvent) {
	switch ev.Kind {
	case renderer.EventNavigated:
		w.checkURL(ev.URL)
	case renderer.EventDocumentReplaced:
		w.checkURL(ev.URL)
		// The old document's media element is gone with the document.
		// checkURL already dropped it on a URL change; this covers
		// same-URL reloads.
		w.markLost("document replaced")
	case renderer.EventContentLoaded:
		w.checkURL(ev.URL)
		w.pollMedia()
	}
}

func (w *Watcher) probeURL() {
	w.checkURL(w.rc.Page().URL())
}

func (w *Watcher) checkURL(url string) {
	if url == "" {
		return
	}

	w.mu.Lock()
	if w.stopped || url == w.lastURL {
		w.mu.Unlock()
		return
	}
	w.lastURL = url
	subs := make([]func(string), 0, len(w.navSubs))
	for _, fn := range w.navSubs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	w.log.Debug("navigation", "url", url)
	for _, fn := range subs {
		fn(url)
	}

	// Soft navigations swap page content without replacing the document,
	// so the tracked media element cannot be trusted across a URL change.
	// Drop it and let the search poll rediscover (and re-announce) it.
	w.markLost("navigation")
}

// schedulePoll arms the next media poll on the context loop. A zero
// delay polls as soon as the loop gets to it.
func (w *Watcher) schedulePoll(d time.Duration) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.cancelMediaPoll != nil {
		w.cancelMediaPoll()
	}
	if d <= 0 {
		w.cancelMediaPoll = nil
		w.mu.Unlock()
		w.rc.Do(w.pollMedia)
		return
	}
	w.cancelMediaPoll = w.rc.After(d, w.pollMedia)
	w.mu.Unlock()
}

func (w *Watcher) pollMedia() {
	st, ok := w.rc.Page().MediaState()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	var found []func(renderer.MediaState)
	var lost []func()
	switch {
	case ok && !w.haveMedia:
		w.haveMedia = true
		w.media = st
		found = make([]func(renderer.MediaState), 0, len(w.foundSubs))
		for _, fn := range w.foundSubs {
			found = append(found, fn)
		}
	case ok:
		w.media = st
	case w.haveMedia:
		w.haveMedia = false
		w.media = renderer.MediaState{}
		lost = make([]func(), 0, len(w.lostSubs))
		for _, fn := range w.lostSubs {
			lost = append(lost, fn)
		}
	}
	next := w.searchInterval
	if w.haveMedia {
		next = w.settledInterval
	}
	w.mu.Unlock()

	if found != nil {
		w.log.Debug("media element found", "duration", st.Duration)
	}
	for _, fn := range found {
		fn(st)
	}
	if lost != nil {
		w.log.Debug("media element lost")
	}
	for _, fn := range lost {
		fn()
	}

	w.schedulePoll(next)
}

// markLost flips to searching without a page read, used when the page
// invalidated whatever element we were tracking. A no-op while nothing
// is found.
func (w *Watcher) markLost(reason string) {
	w.mu.Lock()
	if w.stopped || !w.haveMedia {
		w.mu.Unlock()
		return
	}
	w.haveMedia = false
	w.media = renderer.MediaState{}
	lost := make([]func(), 0, len(w.lostSubs))
	for _, fn := range w.lostSubs {
		lost = append(lost, fn)
	}
	w.mu.Unlock()

	w.log.Debug("media element lost", "reason", reason)
	for _, fn := range lost {
		fn()
	}
	w.schedulePoll(w.searchInterval)
}
