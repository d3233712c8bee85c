package inject

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/rendertest"
	"github.com/sideband-shell/sideband/internal/renderer/watch"
)

// recorder tallies lifecycle calls across program instances built from
// one factory.
type recorder struct {
	mu         sync.Mutex
	starts     int
	stops      int
	reasserts  int
	gate       func(rt *renderer.Runtime) error
	lastConfig config.Snapshot
}

func (r *recorder) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

func (r *recorder) reassertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasserts
}

func (r *recorder) config() config.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastConfig
}

type probeProgram struct {
	rec *recorder
}

func (p *probeProgram) Start(rt *renderer.Runtime) error {
	p.rec.mu.Lock()
	p.rec.starts++
	p.rec.lastConfig = rt.Config
	gate := p.rec.gate
	p.rec.mu.Unlock()
	if gate != nil {
		return gate(rt)
	}
	return nil
}

func (p *probeProgram) Stop() {
	p.rec.mu.Lock()
	p.rec.stops++
	p.rec.mu.Unlock()
}

func (p *probeProgram) Reassert() {
	p.rec.mu.Lock()
	p.rec.reasserts++
	p.rec.mu.Unlock()
}

const testDelay = 5 * time.Millisecond

func newHarness(t *testing.T) (*rendertest.Page, *renderer.Context, *Injector, *recorder) {
	t.Helper()
	page := rendertest.NewPage("https://music.example.com/", "")
	rc := renderer.NewContext(page)
	t.Cleanup(rc.Close)

	rec := &recorder{}
	reg := renderer.NewRegistry()
	if err := reg.Register("probe", func() renderer.Program { return &probeProgram{rec: rec} }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	inj := New(reg, WithTimings(Timings{
		RetryShort: testDelay,
		RetryLong:  2 * testDelay,
		NavSettle:  testDelay,
	}))
	inj.Attach(rc, Deps{})
	return page, rc, inj, rec
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

func probeUnit() Unit {
	return Unit{
		Plugin:   "probe-plugin",
		Behavior: "probe",
		Config:   config.Snapshot{Plugin: "probe-plugin", Enabled: true},
	}
}

func TestInjectMountsProgram(t *testing.T) {
	_, rc, inj, rec := newHarness(t)

	unit := probeUnit()
	unit.Config.Settings = map[string]any{"color": "red"}
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	waitFor(t, "program start", func() bool { s, _ := rec.counts(); return s == 1 })
	waitFor(t, "active marker", func() bool { return inj.Active(rc, "probe-plugin") })

	if got := rec.config().String("color", ""); got != "red" {
		t.Errorf("runtime config color = %q, want %q", got, "red")
	}
}

func TestInjectIdempotentAcrossTriggers(t *testing.T) {
	page, rc, inj, rec := newHarness(t)

	unit := probeUnit()
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "program start", func() bool { s, _ := rec.counts(); return s == 1 })

	// Same unit again, plus the full content-loaded trigger cascade:
	// the marker is current, so nothing restarts.
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("second Inject: %v", err)
	}
	page.Load()
	time.Sleep(6 * testDelay)

	starts, stops := rec.counts()
	if starts != 1 || stops != 0 {
		t.Errorf("starts=%d stops=%d after duplicate injection, want 1/0", starts, stops)
	}
}

func TestInjectUnknownBehavior(t *testing.T) {
	_, rc, inj, _ := newHarness(t)

	unit := probeUnit()
	unit.Behavior = "ghost"
	if err := inj.Inject(rc, unit); !errors.Is(err, renderer.ErrUnknownProgram) {
		t.Fatalf("Inject error = %v, want ErrUnknownProgram", err)
	}
}

func TestInjectUnattachedContext(t *testing.T) {
	_, _, inj, _ := newHarness(t)

	other := renderer.NewContext(rendertest.NewPage("https://music.example.com/", ""))
	defer other.Close()

	if err := inj.Inject(other, probeUnit()); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("Inject error = %v, want ErrNotAttached", err)
	}
}

func TestInjectConfigChangeRestarts(t *testing.T) {
	_, rc, inj, rec := newHarness(t)

	unit := probeUnit()
	unit.Config.Settings = map[string]any{"color": "red"}
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "first start", func() bool { s, _ := rec.counts(); return s == 1 })

	unit.Config.Settings = map[string]any{"color": "blue"}
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("re-Inject: %v", err)
	}
	waitFor(t, "restart", func() bool { s, _ := rec.counts(); return s == 2 })

	if _, stops := rec.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if got := rec.config().String("color", ""); got != "blue" {
		t.Errorf("runtime config color = %q, want %q", got, "blue")
	}
}

func TestDocumentReplacementRemounts(t *testing.T) {
	page, rc, inj, rec := newHarness(t)

	if err := inj.Inject(rc, probeUnit()); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "first start", func() bool { s, _ := rec.counts(); return s == 1 })

	page.ReplaceDocument("https://music.example.com/library", "")
	page.Load()

	waitFor(t, "remount", func() bool { s, _ := rec.counts(); return s == 2 })
	if _, stops := rec.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1 (old generation program)", stops)
	}
	waitFor(t, "active marker", func() bool { return inj.Active(rc, "probe-plugin") })
}

func TestStartFailureRetriesOnTriggers(t *testing.T) {
	page, rc, inj, rec := newHarness(t)
	rec.gate = func(rt *renderer.Runtime) error {
		if !rt.Context.Page().Exists("#player") {
			return errors.New("player not mounted")
		}
		return nil
	}

	if err := inj.Inject(rc, probeUnit()); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "failed start", func() bool { s, _ := rec.counts(); return s >= 1 })
	if inj.Active(rc, "probe-plugin") {
		t.Fatal("marker active despite failed start")
	}

	// The player UI mounts late; the content-loaded retry cascade picks
	// it up.
	page.SetHTML(`<html><body><div id="player"></div></body></html>`)
	page.Load()

	waitFor(t, "recovery", func() bool { return inj.Active(rc, "probe-plugin") })
}

func TestEjectStopsProgram(t *testing.T) {
	page, rc, inj, rec := newHarness(t)

	if err := inj.Inject(rc, probeUnit()); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "start", func() bool { s, _ := rec.counts(); return s == 1 })

	inj.Eject(rc, "probe-plugin")
	waitFor(t, "stop", func() bool { _, st := rec.counts(); return st == 1 })
	if inj.Active(rc, "probe-plugin") {
		t.Error("marker still active after eject")
	}

	// No marker left: triggers must not resurrect the program.
	page.Load()
	time.Sleep(6 * testDelay)
	if starts, _ := rec.counts(); starts != 1 {
		t.Errorf("starts = %d after eject and reload, want 1", starts)
	}
}

func TestEjectPluginAcrossContexts(t *testing.T) {
	_, rc1, inj, rec := newHarness(t)

	page2 := rendertest.NewPage("https://music.example.com/", "")
	rc2 := renderer.NewContext(page2)
	t.Cleanup(rc2.Close)
	inj.Attach(rc2, Deps{})

	for _, rc := range []*renderer.Context{rc1, rc2} {
		if err := inj.Inject(rc, probeUnit()); err != nil {
			t.Fatalf("Inject: %v", err)
		}
	}
	waitFor(t, "both starts", func() bool { s, _ := rec.counts(); return s == 2 })

	inj.EjectPlugin("probe-plugin")
	waitFor(t, "both stops", func() bool { _, st := rec.counts(); return st == 2 })
}

func TestDetachStopsEverything(t *testing.T) {
	_, rc, inj, rec := newHarness(t)

	if err := inj.Inject(rc, probeUnit()); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "start", func() bool { s, _ := rec.counts(); return s == 1 })

	inj.Detach(rc)
	waitFor(t, "stop", func() bool { _, st := rec.counts(); return st == 1 })

	if err := inj.Inject(rc, probeUnit()); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Inject after Detach = %v, want ErrNotAttached", err)
	}
}

func TestReassertInterval(t *testing.T) {
	_, rc, inj, rec := newHarness(t)

	unit := probeUnit()
	unit.Reassert = testDelay
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	waitFor(t, "reasserts", func() bool { return rec.reassertCount() >= 2 })
	if starts, _ := rec.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1 (reassert must not restart)", starts)
	}
}

func TestMediaLossTriggersReassert(t *testing.T) {
	page := rendertest.NewPage("https://music.example.com/watch?v=1", "")
	rc := renderer.NewContext(page)
	t.Cleanup(rc.Close)

	rec := &recorder{}
	reg := renderer.NewRegistry()
	if err := reg.Register("probe", func() renderer.Program { return &probeProgram{rec: rec} }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := watch.New(rc, watch.WithIntervals(testDelay, testDelay, testDelay))
	t.Cleanup(w.Stop)
	inj := New(reg, WithTimings(Timings{RetryShort: testDelay, RetryLong: 2 * testDelay, NavSettle: testDelay}))
	inj.Attach(rc, Deps{Watch: w})

	page.SetMedia(renderer.MediaState{Duration: 240 * time.Second})
	waitFor(t, "media discovery", func() bool { _, ok := w.Media(); return ok })

	// An hour-long interval keeps the timer quiet; only the loss
	// signal can poke the program within the test window.
	unit := probeUnit()
	unit.Reassert = time.Hour
	if err := inj.Inject(rc, unit); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "start", func() bool { s, _ := rec.counts(); return s == 1 })

	page.ClearMedia()
	waitFor(t, "reassert on media loss", func() bool { return rec.reassertCount() >= 1 })
	if starts, _ := rec.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1 (reassert must not restart)", starts)
	}
}

func TestNavigationSettleRemount(t *testing.T) {
	page := rendertest.NewPage("https://music.example.com/", "")
	rc := renderer.NewContext(page)
	t.Cleanup(rc.Close)

	rec := &recorder{}
	rec.gate = func(rt *renderer.Runtime) error {
		if rt.Context.Page().URL() == "https://music.example.com/" {
			return errors.New("not on a watch page")
		}
		return nil
	}
	reg := renderer.NewRegistry()
	if err := reg.Register("probe", func() renderer.Program { return &probeProgram{rec: rec} }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := watch.New(rc, watch.WithIntervals(testDelay, testDelay, testDelay))
	t.Cleanup(w.Stop)
	inj := New(reg, WithTimings(Timings{RetryShort: testDelay, RetryLong: 2 * testDelay, NavSettle: testDelay}))
	inj.Attach(rc, Deps{Watch: w})

	if err := inj.Inject(rc, probeUnit()); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	waitFor(t, "failed start", func() bool { s, _ := rec.counts(); return s >= 1 })

	page.Navigate("https://music.example.com/watch?v=1")
	waitFor(t, "settled remount", func() bool { return inj.Active(rc, "probe-plugin") })
}
