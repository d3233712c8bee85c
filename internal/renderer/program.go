package renderer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/proxy"
	"github.com/sideband-shell/sideband/internal/session"
)

// Discovery is the shared page-watching utility handed to every
// program. One instance is installed per context ahead of any plugin
// program; see renderer/watch.
type Discovery interface {
	// OnNavigate subscribes to distinct-URL changes.
	OnNavigate(fn func(url string)) (cancel func())

	// OnMediaFound subscribes to media-element discovery. A subscriber
	// arriving while an element is already present is invoked
	// immediately with the current state.
	OnMediaFound(fn func(MediaState)) (cancel func())

	// OnMediaLost subscribes to media-element disappearance.
	OnMediaLost(fn func()) (cancel func())

	// Media returns the latest reading, ok=false while searching.
	Media() (MediaState, bool)
}

// Runtime is everything a program may touch, assembled by the injector
// per (plugin, context) activation. Programs run on the context loop;
// blocking work goes through Context.Go.
type Runtime struct {
	// Plugin is the owning plugin name.
	Plugin string

	// Context is the owning execution environment.
	Context *Context

	// Config is the plugin's merged config snapshot taken at injection
	// time. Re-injection delivers a fresh snapshot.
	Config config.Snapshot

	// Watch is the context's shared discovery utility.
	Watch Discovery

	// Proxy performs privileged host-side operations (signing, outbound
	// HTTP).
	Proxy proxy.Invoker

	// Session is the host-side now-playing feed.
	Session session.Publisher

	// Log carries plugin and context attributes.
	Log *slog.Logger
}

// Program is one renderer-side behavior body. Start is called on the
// context loop with a fresh Runtime; Stop must undo page artifacts and
// release subscriptions. A program instance is started at most once.
type Program interface {
	Start(rt *Runtime) error
	Stop()
}

// Factory builds a fresh program instance per activation.
type Factory func() Program

// Registry maps behavior identifiers to program factories. Plugins
// reference behaviors by identifier; the injector instantiates them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty program registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a behavior. Duplicate identifiers are rejected.
func (r *Registry) Register(behavior string, f Factory) error {
	if behavior == "" || f == nil {
		return fmt.Errorf("register program %q: %w", behavior, ErrInvalidProgram)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[behavior]; exists {
		return fmt.Errorf("register program %q: %w", behavior, ErrDuplicateProgram)
	}
	r.factories[behavior] = f
	return nil
}

// New instantiates the program body for a behavior.
func (r *Registry) New(behavior string) (Program, error) {
	r.mu.RLock()
	f, ok := r.factories[behavior]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("program %q: %w", behavior, ErrUnknownProgram)
	}
	return f(), nil
}

// Behaviors lists registered identifiers, sorted.
func (r *Registry) Behaviors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
