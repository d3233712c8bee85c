// Package app assembles the Sideband shell: the plugin settings store,
// the plugin host with the built-in integrations, scripted plugins, and
// the embedded browser the player runs in. It owns startup order and
// graceful teardown; everything between those lives in the packages it
// wires together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sideband-shell/sideband/internal/builtin"
	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/plugin/luaext"
	"github.com/sideband-shell/sideband/internal/proxy"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/browser"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
	"github.com/sideband-shell/sideband/internal/session"
)

// ErrAlreadyRunning is returned by Run when the application is running.
var ErrAlreadyRunning = errors.New("application already running")

// Options are the command-line overrides. Zero values defer to the app
// config file and its defaults.
type Options struct {
	// ConfigPath is the TOML app config. Empty loads defaults plus
	// SIDEBAND_* environment overrides.
	ConfigPath string

	// PlayerURL overrides the configured player page.
	PlayerURL string

	// PluginDir overrides the scripted plugin directory.
	PluginDir string

	// LogLevel overrides the configured log level.
	LogLevel string

	// Headless forces a browser without a visible window.
	Headless bool
}

// Application is the composed shell. Create with New, start with Run,
// stop with Shutdown.
type Application struct {
	cfg config.App
	log *slog.Logger

	store    *config.Store
	broker   *proxy.Broker
	feed     *session.Feed
	registry *renderer.Registry
	injector *inject.Injector
	host     *plugin.Host

	// browser supplies player windows. Swappable before Run; tests
	// substitute scripted pages.
	browser Windows

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	downOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	windows map[string]*window
}

// New loads configuration, applies the option overrides, and wires
// every component short of the browser process itself, which Run
// launches.
func New(opts Options) (*Application, error) {
	cfg, err := config.LoadApp(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.PlayerURL != "" {
		cfg.PlayerURL = opts.PlayerURL
	}
	if opts.PluginDir != "" {
		cfg.PluginDir = opts.PluginDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Headless {
		cfg.Headless = true
	}

	a := &Application{
		cfg: cfg,
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		})),
		done:    make(chan struct{}),
		windows: make(map[string]*window),
	}

	if err := a.bootstrap(); err != nil {
		return nil, err
	}
	return a, nil
}

// bootstrap builds components in dependency order: settings store,
// shared services, program registry, plugin host, plugins, browser.
func (a *Application) bootstrap() error {
	a.store = config.NewStore(a.cfg.StatePath,
		config.WithStoreLogger(a.log.With("component", "store")))
	if err := a.store.Load(); err != nil {
		// Defaults still apply; the next save rewrites the document.
		a.log.Warn("plugin settings unreadable", "error", err)
	}

	a.broker = proxy.NewBroker(
		proxy.WithBrokerLogger(a.log.With("component", "proxy")))
	a.feed = session.NewFeed(
		session.WithFeedLogger(a.log.With("component", "session")))

	a.registry = renderer.NewRegistry()
	if err := builtin.RegisterPrograms(a.registry); err != nil {
		return &InitError{Component: "programs", Err: err}
	}
	a.injector = inject.New(a.registry,
		inject.WithLogger(a.log.With("component", "inject")))

	a.host = plugin.NewHost(a.store,
		plugin.WithHostLogger(a.log.With("component", "host")))

	builtins := []plugin.Plugin{
		builtin.NewSession(a.injector, a.log.With("plugin", "session")),
		builtin.NewAdSkip(a.injector, a.log.With("plugin", "adskip")),
		builtin.NewScrobbler(a.feed, a.broker, a.log.With("plugin", "scrobbler")),
		builtin.NewPresence(a.feed, a.log.With("plugin", "presence")),
		builtin.NewCompanion(a.feed, a.log.With("plugin", "companion")),
	}
	for _, p := range builtins {
		if err := a.host.Register(p); err != nil {
			return &InitError{Component: "plugins", Err: err}
		}
	}

	scripts, err := luaext.Discover(a.cfg.PluginDir,
		a.log.With("component", "lua"))
	if err != nil {
		// Scripted plugins are an extension point, not a requirement.
		a.log.Warn("plugin discovery failed", "dir", a.cfg.PluginDir, "error", err)
	}
	for _, s := range scripts {
		if err := a.host.Register(s); err != nil {
			a.log.Warn("lua plugin rejected",
				"plugin", s.Metadata().Name, "error", err)
			s.Close()
		}
	}

	a.browser = browserWindows{browser.NewManager(
		browser.WithHeadless(a.cfg.Headless),
		browser.WithLogger(a.log.With("component", "browser")),
	)}
	return nil
}

// SetWindows replaces the window source. Must be called before Run.
func (a *Application) SetWindows(w Windows) error {
	if a.running.Load() {
		return ErrAlreadyRunning
	}
	a.browser = w
	return nil
}

// Run starts the plugin host, launches the browser, opens the player
// window, and blocks until Shutdown is called or the last window
// closes. Plugin hook failures are logged, not fatal; only a browser
// that cannot start or a player page that cannot open abort the run.
func (a *Application) Run() error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	// Plugins come up before the first window so programs inject on the
	// initial load.
	if err := a.host.Start(context.Background()); err != nil {
		a.log.Warn("plugin startup", "error", err)
	}

	// Settings-UI edits land in the store file; follow it.
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		<-a.done
		cancelWatch()
	}()
	go func() {
		defer a.wg.Done()
		if err := a.store.Watch(watchCtx, config.DefaultWatchDebounce); err != nil {
			a.log.Warn("settings file not watchable", "error", err)
		}
	}()

	if err := a.browser.Start(); err != nil {
		a.requestStop()
		return &InitError{Component: "browser", Err: err}
	}

	if _, err := a.openWindow(a.cfg.PlayerURL); err != nil {
		a.requestStop()
		return fmt.Errorf("open player: %w", err)
	}

	a.log.Info("sideband running", "player", a.cfg.PlayerURL)
	<-a.done
	return nil
}

// Shutdown stops the application: remaining windows are torn down, the
// browser and plugins stop, and the settings store is saved. Safe to
// call at any time and more than once; it unblocks Run.
func (a *Application) Shutdown() {
	a.requestStop()
	a.downOnce.Do(a.teardown)
}

// requestStop unblocks Run without performing teardown.
func (a *Application) requestStop() {
	a.stopOnce.Do(func() { close(a.done) })
}

// teardown releases everything in reverse bootstrap order.
func (a *Application) teardown() {
	a.mu.Lock()
	open := make([]*window, 0, len(a.windows))
	for _, w := range a.windows {
		open = append(open, w)
	}
	a.mu.Unlock()

	for _, w := range open {
		a.closeWindow(w)
	}

	if err := a.browser.Stop(); err != nil {
		a.log.Warn("browser shutdown", "error", err)
	}

	a.host.Close()

	if err := a.store.Save(); err != nil {
		a.log.Warn("saving plugin settings", "error", err)
	}

	a.wg.Wait()
	a.log.Info("sideband stopped")
}

// IsRunning reports whether Run is active.
func (a *Application) IsRunning() bool {
	return a.running.Load()
}

// Host exposes the plugin host, the survey surface for a settings UI.
func (a *Application) Host() *plugin.Host {
	return a.host
}

// Store exposes the plugin settings store.
func (a *Application) Store() *config.Store {
	return a.store
}

// Feed exposes the now-playing feed.
func (a *Application) Feed() *session.Feed {
	return a.feed
}

// Config returns the resolved app configuration.
func (a *Application) Config() config.App {
	return a.cfg
}

// InitError reports which component failed to come up.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
