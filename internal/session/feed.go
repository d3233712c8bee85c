package session

import (
	"log/slog"
	"sync"
)

// EventKind classifies feed events.
type EventKind int

const (
	// EventNowPlaying carries a fresh update.
	EventNowPlaying EventKind = iota

	// EventCleared reports that a context stopped playing; only
	// Update.ContextID is meaningful.
	EventCleared
)

// Event is one feed delivery.
type Event struct {
	Kind   EventKind
	Update Update
}

// Feed is the host-side fan-out for the session push channel. Renderer
// programs publish into it; host consumers subscribe. The latest update
// is retained so late subscribers and pull-style consumers (the
// companion server) can read current state.
//
// Subscribers run synchronously on the publishing goroutine and must
// return quickly; panics are recovered and logged.
type Feed struct {
	mu sync.RWMutex

	subs   map[int]feedSub
	nextID int

	// latest per context, plus the id of the context that published
	// most recently, for the single-answer Latest query.
	latest    map[string]Update
	latestCtx string

	log *slog.Logger
}

type feedSub struct {
	name string
	fn   func(Event)
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedLogger sets the logger used for subscriber diagnostics.
func WithFeedLogger(l *slog.Logger) FeedOption {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFeed creates an empty feed.
func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		subs:   make(map[int]feedSub),
		latest: make(map[string]Update),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish delivers an update to all subscribers and retains it as the
// latest state.
func (f *Feed) Publish(u Update) {
	f.mu.Lock()
	f.latest[u.ContextID] = u
	f.latestCtx = u.ContextID
	subs := f.subscribersLocked()
	f.mu.Unlock()

	f.deliver(subs, Event{Kind: EventNowPlaying, Update: u})
}

// Clear drops the retained state for a context and notifies
// subscribers.
func (f *Feed) Clear(contextID string) {
	f.mu.Lock()
	delete(f.latest, contextID)
	if f.latestCtx == contextID {
		f.latestCtx = ""
		// Fall back to any other context still playing.
		for id := range f.latest {
			f.latestCtx = id
			break
		}
	}
	subs := f.subscribersLocked()
	f.mu.Unlock()

	f.deliver(subs, Event{Kind: EventCleared, Update: Update{ContextID: contextID}})
}

// Latest returns the most recently published update, ok=false when no
// context is playing.
func (f *Feed) Latest() (Update, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.latestCtx == "" {
		return Update{}, false
	}
	u, ok := f.latest[f.latestCtx]
	return u, ok
}

// Subscribe registers a named consumer. Returns an unsubscribe
// function.
func (f *Feed) Subscribe(name string, fn func(Event)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = feedSub{name: name, fn: fn}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *Feed) subscribersLocked() []feedSub {
	out := make([]feedSub, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s)
	}
	return out
}

// deliver calls subscribers outside the feed lock with panic recovery;
// one consumer's failure never blocks the rest.
func (f *Feed) deliver(subs []feedSub, ev Event) {
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.log.Error("session feed subscriber panicked",
						"subscriber", s.name, "panic", r)
				}
			}()
			s.fn(ev)
		}()
	}
}
