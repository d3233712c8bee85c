package builtin

import (
	"sync"
	"testing"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
	"github.com/sideband-shell/sideband/internal/renderer/rendertest"
	"github.com/sideband-shell/sideband/internal/renderer/watch"
	"github.com/sideband-shell/sideband/internal/session"
)

const testPoll = 5 * time.Millisecond

// renderHarness wires one fake page into the full injection stack: a
// running context, a fast-polling watcher, and an injector whose
// programs publish into a real feed.
type renderHarness struct {
	page *rendertest.Page
	rc   *renderer.Context
	inj  *inject.Injector
	feed *session.Feed
}

func newRenderHarness(t *testing.T, url, src string) *renderHarness {
	t.Helper()
	page := rendertest.NewPage(url, src)
	rc := renderer.NewContext(page)
	t.Cleanup(rc.Close)

	w := watch.New(rc, watch.WithIntervals(testPoll, testPoll, testPoll))
	t.Cleanup(w.Stop)

	reg := renderer.NewRegistry()
	if err := RegisterPrograms(reg); err != nil {
		t.Fatalf("RegisterPrograms() error = %v", err)
	}

	feed := session.NewFeed()
	inj := inject.New(reg, inject.WithTimings(inject.Timings{
		RetryShort: testPoll,
		RetryLong:  2 * testPoll,
		NavSettle:  testPoll,
	}))
	inj.Attach(rc, inject.Deps{Watch: w, Session: feed})
	return &renderHarness{page: page, rc: rc, inj: inj, feed: feed}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// snap builds an enabled-state config snapshot for plugin hook calls.
func snap(plugin string, enabled bool, settings map[string]any) config.Snapshot {
	if settings == nil {
		settings = map[string]any{}
	}
	return config.Snapshot{Plugin: plugin, Enabled: enabled, Settings: settings}
}

// unitFor builds an injection request the way the page gate would.
func unitFor(plugin, behavior string, settings map[string]any) inject.Unit {
	return inject.Unit{
		Plugin:   plugin,
		Behavior: behavior,
		Config:   snap(plugin, true, settings),
	}
}

// feedRecorder collects feed events for assertions.
type feedRecorder struct {
	mu     sync.Mutex
	events []session.Event
}

func recordFeed(t *testing.T, feed *session.Feed) *feedRecorder {
	t.Helper()
	r := &feedRecorder{}
	unsub := feed.Subscribe("test-recorder", func(ev session.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	t.Cleanup(unsub)
	return r
}

// updates returns the now-playing payloads seen so far, in order.
func (r *feedRecorder) updates() []session.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Update
	for _, ev := range r.events {
		if ev.Kind == session.EventNowPlaying {
			out = append(out, ev.Update)
		}
	}
	return out
}

func (r *feedRecorder) cleared() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == session.EventCleared {
			n++
		}
	}
	return n
}
