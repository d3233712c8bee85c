package luaext

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/renderer"
)

// Script is a loaded Lua plugin adapted to the plugin contract. The
// host drives it like any registered plugin; hooks forward to the
// script's global functions when the page passes the manifest globs.
type Script struct {
	manifest *Manifest
	state    *luaState
	log      *slog.Logger

	// dispatchMu serializes hook dispatch so the current-context slot
	// below pairs with exactly one running Lua call.
	dispatchMu sync.Mutex

	mu       sync.Mutex
	contexts map[string]*renderer.Context
	current  *renderer.Context
	lastCfg  config.Snapshot
	cssKeys  map[string]bool
}

var (
	_ plugin.Plugin       = (*Script)(nil)
	_ plugin.Configurable = (*Script)(nil)
	_ plugin.ReadyHook    = (*Script)(nil)
	_ plugin.ContextHook  = (*Script)(nil)
	_ plugin.ContentHook  = (*Script)(nil)
	_ plugin.ConfigHook   = (*Script)(nil)
	_ plugin.DisableHook  = (*Script)(nil)
	_ plugin.TeardownHook = (*Script)(nil)
)

// Option configures script loading.
type Option func(*Script)

// WithLogger sets the logger scripts write to through shell.log.
func WithLogger(log *slog.Logger) Option {
	return func(s *Script) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCallTimeout overrides the per-call execution deadline. Zero
// disables the deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Script) {
		s.state.timeout = d
	}
}

// Load reads the manifest in dir, builds a sandboxed state with the
// shell module installed, and runs init.lua. The returned script is
// ready to register with the host.
func Load(dir string, opts ...Option) (*Script, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	s := &Script{
		manifest: m,
		state:    newLuaState(DefaultCallTimeout),
		log:      slog.Default(),
		contexts: make(map[string]*renderer.Context),
		cssKeys:  make(map[string]bool),
		lastCfg: config.Snapshot{
			Plugin:   m.Name,
			Enabled:  m.EnabledDefault == nil || *m.EnabledDefault,
			Settings: m.Defaults(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("plugin", m.Name)

	s.state.registerModule("shell", s.shellFuncs())

	if err := s.state.doFile(m.MainPath()); err != nil {
		s.state.close()
		return nil, fmt.Errorf("plugin %s: %w", m.Name, err)
	}
	return s, nil
}

// Metadata implements plugin.Plugin.
func (s *Script) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        s.manifest.Name,
		Description: s.manifest.Description,
		Version:     s.manifest.Version,
	}
}

// DefaultConfig implements plugin.Configurable from the manifest.
func (s *Script) DefaultConfig() map[string]any {
	return s.manifest.Defaults()
}

// Manifest returns the loaded manifest.
func (s *Script) Manifest() *Manifest { return s.manifest }

// Close releases the Lua state. The script must not be dispatched
// after Close.
func (s *Script) Close() {
	s.state.close()
}

// OnHostReady forwards to on_ready.
func (s *Script) OnHostReady(ctx context.Context) error {
	return s.callHook("on_ready", nil, nil)
}

// OnContextCreated tracks the context and forwards to on_context when
// its URL passes the page globs.
func (s *Script) OnContextCreated(ctx context.Context, rc *renderer.Context) error {
	s.mu.Lock()
	s.contexts[rc.ID()] = rc
	s.mu.Unlock()

	url := rc.URL()
	if !s.manifest.Matches(url) {
		return nil
	}
	return s.callHook("on_context", rc, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{lua.LString(url)}
	})
}

// OnContentLoaded forwards to on_content_loaded when the URL at load
// time passes the page globs. A page that navigates into a matching
// URL fires here without a preceding on_context.
func (s *Script) OnContentLoaded(ctx context.Context, rc *renderer.Context) error {
	url := rc.URL()
	if !s.manifest.Matches(url) {
		return nil
	}
	return s.callHook("on_content_loaded", rc, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{lua.LString(url)}
	})
}

// OnConfigChanged stores the snapshot for shell.config and forwards
// the merged table to on_config_changed.
func (s *Script) OnConfigChanged(ctx context.Context, cfg config.Snapshot) error {
	s.mu.Lock()
	s.lastCfg = cfg
	s.mu.Unlock()

	return s.callHook("on_config_changed", nil, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{s.configTable(L, cfg)}
	})
}

// OnDisabled forwards to on_disabled, then removes any stylesheets the
// script left installed.
func (s *Script) OnDisabled(ctx context.Context) error {
	err := s.callHook("on_disabled", nil, nil)
	s.removeAllCSS()
	return err
}

// OnContextDestroyed drops the context from the script's bookkeeping.
// There is no Lua-side hook for teardown.
func (s *Script) OnContextDestroyed(ctx context.Context, rc *renderer.Context) error {
	s.mu.Lock()
	delete(s.contexts, rc.ID())
	s.mu.Unlock()
	return nil
}

// callHook runs one script function with the current-context slot set
// for the duration of the call. Shell functions invoked from inside
// the call target that context.
func (s *Script) callHook(name string, rc *renderer.Context, buildArgs func(L *lua.LState) []lua.LValue) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.current = rc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	if err := s.state.call(name, buildArgs); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// configTable builds the Lua view of a snapshot: the settings map with
// the resolved enabled flag folded in.
func (s *Script) configTable(L *lua.LState, cfg config.Snapshot) lua.LValue {
	tbl, ok := toLua(L, cfg.Settings).(*lua.LTable)
	if !ok {
		tbl = L.NewTable()
	}
	tbl.RawSetString("enabled", lua.LBool(cfg.Enabled))
	return tbl
}

// cssTargets returns the contexts a shell CSS call applies to: the
// context whose hook is running, or every live matching context when
// called from a global hook such as on_config_changed.
func (s *Script) cssTargets() []*renderer.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return []*renderer.Context{s.current}
	}
	out := make([]*renderer.Context, 0, len(s.contexts))
	for _, rc := range s.contexts {
		if s.manifest.Matches(rc.URL()) {
			out = append(out, rc)
		}
	}
	return out
}

// cssKey namespaces a script-chosen key so scripts cannot clobber
// other plugins' stylesheets.
func (s *Script) cssKey(key string) string {
	return "lua/" + s.manifest.Name + "/" + key
}

// removeAllCSS drops every stylesheet the script installed, across all
// live contexts.
func (s *Script) removeAllCSS() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.cssKeys))
	for k := range s.cssKeys {
		keys = append(keys, k)
	}
	s.cssKeys = make(map[string]bool)
	targets := make([]*renderer.Context, 0, len(s.contexts))
	for _, rc := range s.contexts {
		targets = append(targets, rc)
	}
	s.mu.Unlock()

	for _, rc := range targets {
		rc := rc
		for _, key := range keys {
			key := key
			rc.Do(func() {
				if err := rc.Page().RemoveCSS(key); err != nil {
					s.log.Debug("remove css failed", "key", key, "error", err)
				}
			})
		}
	}
}
