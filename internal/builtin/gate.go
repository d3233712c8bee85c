package builtin

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gobwas/glob"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
)

// pageGate is the host-side scaffolding shared by built-ins that keep
// one program injected on matching pages. It tracks live contexts,
// recompiles the page globs on config changes, and injects or ejects as
// URLs and enablement move. The unit builder turns the current config
// snapshot into the injection request.
type pageGate struct {
	name     string
	injector *inject.Injector
	unit     func(cfg config.Snapshot) inject.Unit
	log      *slog.Logger

	mu       sync.Mutex
	cfg      config.Snapshot
	globs    []glob.Glob
	contexts map[string]*renderer.Context
}

func newPageGate(name string, injector *inject.Injector, unit func(config.Snapshot) inject.Unit, defaults map[string]any, log *slog.Logger) *pageGate {
	g := &pageGate{
		name:     name,
		injector: injector,
		unit:     unit,
		log:      log,
		cfg:      seedSnapshot(name, defaults),
		contexts: make(map[string]*renderer.Context),
	}
	g.globs = compileGlobs(pagesOf(g.cfg), log)
	return g
}

// setConfig replaces the snapshot and re-syncs every live context.
func (g *pageGate) setConfig(cfg config.Snapshot) {
	g.mu.Lock()
	g.cfg = cfg
	g.globs = compileGlobs(pagesOf(cfg), g.log)
	globs := g.globs
	contexts := g.liveLocked()
	g.mu.Unlock()

	for _, rc := range contexts {
		g.syncOne(rc, cfg, globs)
	}
}

// addContext records a context (idempotent) and syncs it against the
// current config. Serves both context-created and content-loaded: a
// document swap can move the URL into or out of the gated set.
func (g *pageGate) addContext(rc *renderer.Context) {
	g.mu.Lock()
	g.contexts[rc.ID()] = rc
	cfg := g.cfg
	globs := g.globs
	g.mu.Unlock()

	g.syncOne(rc, cfg, globs)
}

func (g *pageGate) removeContext(rc *renderer.Context) {
	g.mu.Lock()
	delete(g.contexts, rc.ID())
	g.mu.Unlock()
}

// ejectAll stops the plugin's program everywhere. The context registry
// is kept; re-enabling replays context hooks and re-syncs.
func (g *pageGate) ejectAll() {
	g.injector.EjectPlugin(g.name)
}

func (g *pageGate) config() config.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

func (g *pageGate) syncOne(rc *renderer.Context, cfg config.Snapshot, globs []glob.Glob) {
	if rc.Closed() {
		return
	}
	if cfg.Enabled && matchAny(globs, rc.URL()) {
		if err := g.injector.Inject(rc, g.unit(cfg)); err != nil {
			if errors.Is(err, inject.ErrNotAttached) {
				g.log.Debug("context not attached", "context", rc.ID())
			} else {
				g.log.Warn("injection failed", "context", rc.ID(), "error", err)
			}
		}
		return
	}
	g.injector.Eject(rc, g.name)
}

// liveLocked returns the live contexts, pruning any that closed while
// the plugin was disabled and missing teardown hooks. Caller holds mu.
func (g *pageGate) liveLocked() []*renderer.Context {
	out := make([]*renderer.Context, 0, len(g.contexts))
	for id, rc := range g.contexts {
		if rc.Closed() {
			delete(g.contexts, id)
			continue
		}
		out = append(out, rc)
	}
	return out
}
