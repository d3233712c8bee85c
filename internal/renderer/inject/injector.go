package inject

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/proxy"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/session"
)

// Unit is one injection request: run behavior for plugin on a context
// with the given config snapshot. A positive Reassert interval pokes
// the program on that cadence, and again whenever the watched media
// element drops out, for page state the foreign app keeps clobbering.
type Unit struct {
	Plugin   string
	Behavior string
	Config   config.Snapshot
	Reassert time.Duration
}

// Reasserter is an optional program capability: re-apply page artifacts
// in place, cheaper than a stop/start cycle.
type Reasserter interface {
	Reassert()
}

// Deps are the per-context collaborators handed to program runtimes.
type Deps struct {
	// Watch is the context's shared discovery utility.
	Watch renderer.Discovery

	// Session is the host-side now-playing feed.
	Session session.Publisher

	// Proxy builds a per-plugin invoker bound to the context lifetime.
	// May be nil when no program on this context calls out.
	Proxy func(plugin string) proxy.Invoker
}

// Timings are the re-injection trigger delays.
type Timings struct {
	// RetryShort and RetryLong re-check markers after content-loaded,
	// catching UI that mounts late.
	RetryShort time.Duration
	RetryLong  time.Duration

	// NavSettle delays the re-check after a route change until the app
	// has re-rendered.
	NavSettle time.Duration
}

func defaultTimings() Timings {
	return Timings{
		RetryShort: 2 * time.Second,
		RetryLong:  5 * time.Second,
		NavSettle:  500 * time.Millisecond,
	}
}

type markerKey struct {
	plugin  string
	context string
}

// marker is the injection record for one (plugin, context) pair.
type marker struct {
	unit           Unit
	epoch          uint64
	program        renderer.Program
	cancelReassert func()
}

type attachment struct {
	rc          *renderer.Context
	deps        Deps
	unsubEvents func()
	cancelNav   func()
	cancelLost  func()
}

// Injector owns every injected program across contexts.
type Injector struct {
	registry *renderer.Registry
	log      *slog.Logger
	timings  Timings

	mu       sync.Mutex
	contexts map[string]*attachment
	markers  map[markerKey]*marker
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the injector logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Injector) {
		if l != nil {
			i.log = l
		}
	}
}

// WithTimings overrides trigger delays. Zero fields keep defaults.
func WithTimings(t Timings) Option {
	return func(i *Injector) {
		if t.RetryShort > 0 {
			i.timings.RetryShort = t.RetryShort
		}
		if t.RetryLong > 0 {
			i.timings.RetryLong = t.RetryLong
		}
		if t.NavSettle > 0 {
			i.timings.NavSettle = t.NavSettle
		}
	}
}

// New creates an injector over a program registry.
func New(registry *renderer.Registry, opts ...Option) *Injector {
	i := &Injector{
		registry: registry,
		log:      slog.Default().With("component", "inject"),
		timings:  defaultTimings(),
		contexts: make(map[string]*attachment),
		markers:  make(map[markerKey]*marker),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Attach registers a context and installs its re-injection triggers.
// Attaching the same context again is a no-op.
func (i *Injector) Attach(rc *renderer.Context, deps Deps) {
	i.mu.Lock()
	if _, exists := i.contexts[rc.ID()]; exists {
		i.mu.Unlock()
		return
	}
	at := &attachment{rc: rc, deps: deps}
	i.contexts[rc.ID()] = at
	i.mu.Unlock()

	id := rc.ID()
	at.unsubEvents = rc.OnEvent(func(ev renderer.PageEvent) {
		if ev.Kind != renderer.EventContentLoaded {
			return
		}
		i.ensureContext(id)
		rc.After(i.timings.RetryShort, func() { i.ensureContext(id) })
		rc.After(i.timings.RetryLong, func() { i.ensureContext(id) })
	})
	if deps.Watch != nil {
		at.cancelNav = deps.Watch.OnNavigate(func(string) {
			rc.After(i.timings.NavSettle, func() { i.ensureContext(id) })
		})
		// A vanished media element usually means the app re-rendered the
		// player and took injected page artifacts with it. Poke the
		// reassert-capable programs once the churn settles.
		at.cancelLost = deps.Watch.OnMediaLost(func() {
			rc.After(i.timings.NavSettle, func() { i.reassertContext(id) })
		})
	}
}

// Detach stops every program on the context and forgets it.
func (i *Injector) Detach(rc *renderer.Context) {
	i.mu.Lock()
	at, ok := i.contexts[rc.ID()]
	if !ok {
		i.mu.Unlock()
		return
	}
	delete(i.contexts, rc.ID())
	var stops []renderer.Program
	for key, m := range i.markers {
		if key.context != rc.ID() {
			continue
		}
		if m.cancelReassert != nil {
			m.cancelReassert()
		}
		if m.program != nil {
			stops = append(stops, m.program)
		}
		delete(i.markers, key)
	}
	i.mu.Unlock()

	at.unsubEvents()
	if at.cancelNav != nil {
		at.cancelNav()
	}
	if at.cancelLost != nil {
		at.cancelLost()
	}
	for _, p := range stops {
		p := p
		rc.Do(p.Stop)
	}
}

// Inject mounts a unit on a context. Re-injecting an identical unit
// against the same document generation is a no-op; a changed behavior
// or config restarts the program.
func (i *Injector) Inject(rc *renderer.Context, unit Unit) error {
	if unit.Plugin == "" || unit.Behavior == "" {
		return fmt.Errorf("inject %q/%q: %w", unit.Plugin, unit.Behavior, renderer.ErrInvalidProgram)
	}

	i.mu.Lock()
	if _, ok := i.contexts[rc.ID()]; !ok {
		i.mu.Unlock()
		return fmt.Errorf("inject %q: %w", unit.Plugin, ErrNotAttached)
	}
	if _, err := i.registry.New(unit.Behavior); err != nil {
		i.mu.Unlock()
		return err
	}

	key := markerKey{plugin: unit.Plugin, context: rc.ID()}
	m, exists := i.markers[key]
	if exists && m.program != nil && m.epoch == rc.Epoch() && sameUnit(m.unit, unit) {
		i.mu.Unlock()
		return nil
	}

	var old renderer.Program
	if exists {
		if m.cancelReassert != nil {
			m.cancelReassert()
			m.cancelReassert = nil
		}
		old = m.program
		m.program = nil
		m.unit = unit
		m.epoch = 0
	} else {
		m = &marker{unit: unit}
		i.markers[key] = m
	}
	i.armReassertLocked(rc, key, m)
	i.mu.Unlock()

	// The old program stops on the loop right before the fresh mount.
	rc.Do(func() {
		if old != nil {
			old.Stop()
		}
		i.mount(key)
	})
	return nil
}

// Eject stops a plugin's program on one context and forgets the marker.
func (i *Injector) Eject(rc *renderer.Context, plugin string) {
	i.mu.Lock()
	key := markerKey{plugin: plugin, context: rc.ID()}
	m, ok := i.markers[key]
	if !ok {
		i.mu.Unlock()
		return
	}
	delete(i.markers, key)
	if m.cancelReassert != nil {
		m.cancelReassert()
	}
	old := m.program
	i.mu.Unlock()

	if old != nil {
		rc.Do(old.Stop)
	}
}

// EjectPlugin stops a plugin's programs on every context.
func (i *Injector) EjectPlugin(plugin string) {
	i.mu.Lock()
	type pending struct {
		rc  *renderer.Context
		old renderer.Program
	}
	var stops []pending
	for key, m := range i.markers {
		if key.plugin != plugin {
			continue
		}
		if m.cancelReassert != nil {
			m.cancelReassert()
		}
		if at, ok := i.contexts[key.context]; ok && m.program != nil {
			stops = append(stops, pending{rc: at.rc, old: m.program})
		}
		delete(i.markers, key)
	}
	i.mu.Unlock()

	for _, s := range stops {
		old := s.old
		s.rc.Do(old.Stop)
	}
}

// Active reports whether a plugin's program is mounted and current on a
// context.
func (i *Injector) Active(rc *renderer.Context, plugin string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	m, ok := i.markers[markerKey{plugin: plugin, context: rc.ID()}]
	return ok && m.program != nil && m.epoch == rc.Epoch()
}

func sameUnit(a, b Unit) bool {
	return a.Behavior == b.Behavior &&
		a.Reassert == b.Reassert &&
		a.Config.Enabled == b.Config.Enabled &&
		reflect.DeepEqual(a.Config.Settings, b.Config.Settings)
}

// armReassertLocked installs the periodic reassert timer for a marker.
// Caller holds mu.
func (i *Injector) armReassertLocked(rc *renderer.Context, key markerKey, m *marker) {
	if m.unit.Reassert <= 0 {
		return
	}
	m.cancelReassert = rc.Every(m.unit.Reassert, func() { i.reassert(key) })
}

// reassertContext pokes every reassert-capable marker on a context.
// Runs on the context loop.
func (i *Injector) reassertContext(contextID string) {
	i.mu.Lock()
	var keys []markerKey
	for key, m := range i.markers {
		if key.context == contextID && m.unit.Reassert > 0 {
			keys = append(keys, key)
		}
	}
	i.mu.Unlock()

	for _, key := range keys {
		i.reassert(key)
	}
}

// ensureContext re-checks every marker on a context, restarting
// programs whose document generation moved on or whose start never
// landed. Runs on the context loop.
func (i *Injector) ensureContext(contextID string) {
	i.mu.Lock()
	var keys []markerKey
	for key := range i.markers {
		if key.context == contextID {
			keys = append(keys, key)
		}
	}
	i.mu.Unlock()

	for _, key := range keys {
		i.mount(key)
	}
}

// mount starts the marker's program when it is absent or stale. Runs on
// the context loop.
func (i *Injector) mount(key markerKey) {
	i.mu.Lock()
	m, ok := i.markers[key]
	at, okCtx := i.contexts[key.context]
	if !ok || !okCtx {
		i.mu.Unlock()
		return
	}
	rc := at.rc
	epoch := rc.Epoch()
	if m.program != nil && m.epoch == epoch {
		i.mu.Unlock()
		return
	}
	old := m.program
	prog, err := i.registry.New(m.unit.Behavior)
	if err != nil {
		m.program = nil
		i.mu.Unlock()
		i.log.Error("program instantiation failed",
			"plugin", key.plugin, "behavior", m.unit.Behavior, "error", err)
		return
	}
	m.program = prog
	m.epoch = epoch
	unit := m.unit
	deps := at.deps
	i.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	rt := &renderer.Runtime{
		Plugin:  unit.Plugin,
		Context: rc,
		Config:  unit.Config,
		Watch:   deps.Watch,
		Session: deps.Session,
		Log:     i.log.With("plugin", unit.Plugin, "context", rc.ID()),
	}
	if deps.Proxy != nil {
		rt.Proxy = deps.Proxy(unit.Plugin)
	}

	if err := prog.Start(rt); err != nil {
		i.log.Warn("program start failed, awaiting next trigger",
			"plugin", unit.Plugin, "behavior", unit.Behavior, "error", err)
		i.mu.Lock()
		if cur, ok := i.markers[key]; ok && cur.program == prog {
			cur.program = nil
		}
		i.mu.Unlock()
		return
	}
	i.log.Debug("program mounted",
		"plugin", unit.Plugin, "behavior", unit.Behavior, "epoch", epoch)
}

// reassert pokes a mounted program in place, or mounts it when absent.
// Runs on the context loop.
func (i *Injector) reassert(key markerKey) {
	i.mu.Lock()
	m, ok := i.markers[key]
	at, okCtx := i.contexts[key.context]
	var prog renderer.Program
	var current bool
	if ok && okCtx {
		prog = m.program
		current = prog != nil && m.epoch == at.rc.Epoch()
	}
	i.mu.Unlock()
	if !ok || !okCtx {
		return
	}

	if current {
		if r, isReasserter := prog.(Reasserter); isReasserter {
			r.Reassert()
		}
		return
	}
	i.mount(key)
}
