package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/renderer"
)

// Host owns the registered plugin set and drives lifecycle hooks from
// process, window, and configuration events.
//
// Dispatch is sequential in registration order over enabled plugins.
// Hook errors and panics are caught per plugin, logged, and joined for
// the caller; one plugin's failure never blocks the rest.
type Host struct {
	mu sync.RWMutex

	store *config.Store
	log   *slog.Logger

	// Registered plugins and their registration order.
	plugins map[string]Plugin
	order   []string

	// Last known enablement per plugin, the transition baseline.
	lastEnabled map[string]bool

	started bool
	baseCtx context.Context

	// Live renderer contexts and their load state, in creation order.
	contexts map[string]*contextRecord
	ctxOrder []string

	unsubscribe func()
}

type contextRecord struct {
	rc     *renderer.Context
	loaded bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHost creates a host bound to a config store. Configuration writes,
// whether programmatic, from the settings UI, or external file edits,
// come back through the store's change notifications and drive hook
// dispatch from one place.
func NewHost(store *config.Store, opts ...HostOption) *Host {
	h := &Host{
		store:       store,
		log:         slog.Default(),
		plugins:     make(map[string]Plugin),
		lastEnabled: make(map[string]bool),
		baseCtx:     context.Background(),
		contexts:    make(map[string]*contextRecord),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.unsubscribe = store.Subscribe(h.onConfigChange)
	return h
}

// Close releases the store subscription and closes every registered
// plugin in reverse registration order. It does not dispatch lifecycle
// hooks; renderer teardown is driven by the application.
func (h *Host) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.Lock()
	plugins := make([]Plugin, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		plugins = append(plugins, h.plugins[h.order[i]])
	}
	h.mu.Unlock()

	for _, p := range plugins {
		if c, ok := p.(Closer); ok {
			c.Close()
		}
	}
}

// Register adds a plugin to the managed set and records its author
// defaults with the config store. Duplicate names fail fast. When the
// host is already running, an enabled plugin immediately receives the
// initialization replay.
func (h *Host) Register(p Plugin) error {
	meta := p.Metadata()
	if err := meta.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	if _, exists := h.plugins[meta.Name]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", meta.Name, ErrDuplicatePlugin)
	}
	h.plugins[meta.Name] = p
	h.order = append(h.order, meta.Name)
	h.mu.Unlock()

	var defaults map[string]any
	if c, ok := p.(Configurable); ok {
		defaults = c.DefaultConfig()
	}
	h.store.RegisterDefaults(meta.Name, defaults)

	enabled := h.store.Enabled(meta.Name)
	h.mu.Lock()
	h.lastEnabled[meta.Name] = enabled
	started := h.started
	ctx := h.baseCtx
	h.mu.Unlock()

	h.log.Debug("plugin registered",
		"plugin", meta.Name, "version", meta.Version, "enabled", enabled)

	if started && enabled {
		h.replay(ctx, p)
	}
	return nil
}

// Start marks the host ready, seeds every enabled plugin's config hook
// with its merged snapshot (so persisted settings reach plugins that
// cache config), and dispatches the host-ready hook. Idempotent.
func (h *Host) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.baseCtx = ctx
	names := h.enabledLocked()
	h.mu.Unlock()

	seedErr := h.dispatch("config-seed", names, func(p Plugin) error {
		if hook, ok := p.(ConfigHook); ok {
			return hook.OnConfigChanged(ctx, h.store.Plugin(p.Metadata().Name))
		}
		return nil
	})
	readyErr := h.dispatch("host-ready", names, func(p Plugin) error {
		if hook, ok := p.(ReadyHook); ok {
			return hook.OnHostReady(ctx)
		}
		return nil
	})
	return errors.Join(seedErr, readyErr)
}

// ContextCreated records a new renderer context and dispatches the
// context-created hook.
func (h *Host) ContextCreated(ctx context.Context, rc *renderer.Context) error {
	h.mu.Lock()
	if _, exists := h.contexts[rc.ID()]; exists {
		h.mu.Unlock()
		return nil
	}
	h.contexts[rc.ID()] = &contextRecord{rc: rc}
	h.ctxOrder = append(h.ctxOrder, rc.ID())
	names := h.enabledLocked()
	h.mu.Unlock()

	return h.dispatch("context-created", names, func(p Plugin) error {
		if hook, ok := p.(ContextHook); ok {
			return hook.OnContextCreated(ctx, rc)
		}
		return nil
	})
}

// ContextLoaded marks a context's document as loaded and dispatches the
// content-loaded hook. Unknown contexts are recorded on the fly.
func (h *Host) ContextLoaded(ctx context.Context, rc *renderer.Context) error {
	h.mu.Lock()
	rec, exists := h.contexts[rc.ID()]
	if !exists {
		rec = &contextRecord{rc: rc}
		h.contexts[rc.ID()] = rec
		h.ctxOrder = append(h.ctxOrder, rc.ID())
	}
	rec.loaded = true
	names := h.enabledLocked()
	h.mu.Unlock()

	return h.dispatch("content-loaded", names, func(p Plugin) error {
		if hook, ok := p.(ContentHook); ok {
			return hook.OnContentLoaded(ctx, rc)
		}
		return nil
	})
}

// ContextDestroyed forgets a context and dispatches the teardown hook.
func (h *Host) ContextDestroyed(ctx context.Context, rc *renderer.Context) error {
	h.mu.Lock()
	if _, exists := h.contexts[rc.ID()]; !exists {
		h.mu.Unlock()
		return nil
	}
	delete(h.contexts, rc.ID())
	for i, id := range h.ctxOrder {
		if id == rc.ID() {
			h.ctxOrder = append(h.ctxOrder[:i], h.ctxOrder[i+1:]...)
			break
		}
	}
	names := h.enabledLocked()
	h.mu.Unlock()

	return h.dispatch("context-destroyed", names, func(p Plugin) error {
		if hook, ok := p.(TeardownHook); ok {
			return hook.OnContextDestroyed(ctx, rc)
		}
		return nil
	})
}

// SetEnabled persists a plugin's enablement. The transition hooks ride
// the store's change notification: disable fires on-disabled, enable
// replays the initialization hooks appropriate to current process
// state. Setting the current value persists but dispatches nothing.
func (h *Host) SetEnabled(name string, enabled bool) error {
	if !h.registered(name) {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return h.store.SetEnabled(name, enabled)
}

// BroadcastConfigChange persists a plugin's settings wholesale, then
// (via the store notification) invokes its on-config-changed hook with
// the merged snapshot.
func (h *Host) BroadcastConfigChange(name string, settings map[string]any) error {
	if !h.registered(name) {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return h.store.Replace(name, settings)
}

// UpdateSetting persists one setting value; the on-config-changed hook
// rides the store notification.
func (h *Host) UpdateSetting(name, key string, value any) error {
	if !h.registered(name) {
		return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return h.store.SetSetting(name, key, value)
}

// Get returns a registered plugin.
func (h *Host) Get(name string) (Plugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[name]
	return p, ok
}

// Plugins lists registered plugins in registration order, for the
// settings surface.
func (h *Host) Plugins() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.order))
	for _, name := range h.order {
		p := h.plugins[name]
		meta := p.Metadata()
		out = append(out, Info{
			Name:        meta.Name,
			Description: meta.Description,
			Version:     meta.Version,
			Enabled:     h.lastEnabled[name],
		})
	}
	return out
}

// PluginConfig returns a plugin's merged config snapshot.
func (h *Host) PluginConfig(name string) (config.Snapshot, error) {
	if !h.registered(name) {
		return config.Snapshot{}, fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
	}
	return h.store.Plugin(name), nil
}

// Count returns the number of registered plugins.
func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plugins)
}

// Contexts returns the live renderer contexts in creation order.
func (h *Host) Contexts() []*renderer.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*renderer.Context, 0, len(h.ctxOrder))
	for _, id := range h.ctxOrder {
		out = append(out, h.contexts[id].rc)
	}
	return out
}

func (h *Host) registered(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.plugins[name]
	return ok
}

// onConfigChange is the store notification handler: the single place
// enablement transitions and config-changed hooks are dispatched from.
func (h *Host) onConfigChange(c config.Change) {
	h.mu.RLock()
	p, ok := h.plugins[c.Plugin]
	ctx := h.baseCtx
	h.mu.RUnlock()
	if !ok {
		return
	}

	switch c.Kind {
	case config.ChangeEnabled:
		enabled, isBool := c.New.(bool)
		if !isBool {
			return
		}
		h.transition(ctx, p, enabled)
	case config.ChangeReload:
		// External edits can flip enablement and settings in one write.
		// An enablement transition already re-initializes against fresh
		// config, so the config hook is only for the settled case.
		if h.transition(ctx, p, h.store.Enabled(c.Plugin)) {
			return
		}
		h.configChanged(ctx, p)
	case config.ChangeSetting:
		h.configChanged(ctx, p)
	}
}

// transition applies an enablement flip. Returns false when the value
// matches the last known state.
func (h *Host) transition(ctx context.Context, p Plugin, enabled bool) bool {
	name := p.Metadata().Name

	h.mu.Lock()
	if h.lastEnabled[name] == enabled {
		h.mu.Unlock()
		return false
	}
	h.lastEnabled[name] = enabled
	h.mu.Unlock()

	if !enabled {
		h.log.Info("plugin disabled", "plugin", name)
		if hook, ok := p.(DisableHook); ok {
			h.invoke(name, "disabled", func() error { return hook.OnDisabled(ctx) })
		}
		return true
	}

	h.log.Info("plugin enabled", "plugin", name)
	h.replay(ctx, p)
	return true
}

// replay re-runs the initialization hooks a plugin missed: a config
// seed with the merged snapshot, host-ready if the host started, then a
// synthetic context-created (and content-loaded where applicable) per
// live context.
func (h *Host) replay(ctx context.Context, p Plugin) {
	name := p.Metadata().Name

	h.mu.RLock()
	started := h.started
	type ctxSnapshot struct {
		rc     *renderer.Context
		loaded bool
	}
	snapshot := make([]ctxSnapshot, 0, len(h.ctxOrder))
	for _, id := range h.ctxOrder {
		rec := h.contexts[id]
		snapshot = append(snapshot, ctxSnapshot{rc: rec.rc, loaded: rec.loaded})
	}
	h.mu.RUnlock()

	if hook, ok := p.(ConfigHook); ok {
		snap := h.store.Plugin(name)
		h.invoke(name, "config-seed", func() error { return hook.OnConfigChanged(ctx, snap) })
	}
	if started {
		if hook, ok := p.(ReadyHook); ok {
			h.invoke(name, "host-ready", func() error { return hook.OnHostReady(ctx) })
		}
	}
	for _, snap := range snapshot {
		rc := snap.rc
		if hook, ok := p.(ContextHook); ok {
			h.invoke(name, "context-created", func() error { return hook.OnContextCreated(ctx, rc) })
		}
		if snap.loaded {
			if hook, ok := p.(ContentHook); ok {
				h.invoke(name, "content-loaded", func() error { return hook.OnContentLoaded(ctx, rc) })
			}
		}
	}
}

func (h *Host) configChanged(ctx context.Context, p Plugin) {
	name := p.Metadata().Name
	if !h.store.Enabled(name) {
		return
	}
	if hook, ok := p.(ConfigHook); ok {
		snap := h.store.Plugin(name)
		h.invoke(name, "config-changed", func() error { return hook.OnConfigChanged(ctx, snap) })
	}
}

// enabledLocked returns enabled plugin names in registration order.
// Must be called with mu held.
func (h *Host) enabledLocked() []string {
	out := make([]string, 0, len(h.order))
	for _, name := range h.order {
		if h.lastEnabled[name] {
			out = append(out, name)
		}
	}
	return out
}

// dispatch invokes one hook across plugins sequentially, aggregating
// failures.
func (h *Host) dispatch(event string, names []string, call func(Plugin) error) error {
	var errs []error
	for _, name := range names {
		h.mu.RLock()
		p, ok := h.plugins[name]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if err := h.invoke(name, event, func() error { return call(p) }); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// invoke runs one hook with panic recovery and failure logging.
func (h *Host) invoke(name, event string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s hook: %v", event, r)
			h.log.Error("plugin hook panicked", "plugin", name, "hook", event, "panic", r)
		}
	}()
	if err = fn(); err != nil {
		h.log.Error("plugin hook failed", "plugin", name, "hook", event, "error", err)
	}
	return err
}
