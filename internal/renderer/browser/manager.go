package browser

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Defaults for opened windows.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800

	// navigateTimeout bounds the initial load of the player, in
	// milliseconds as Playwright counts.
	navigateTimeout = 60_000
)

// Manager owns the Playwright driver and the single browser process
// all player windows share. Each Open call gets an isolated browser
// context.
type Manager struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	pages   []*Page
	started bool

	headless bool
	width    int
	height   int
	log      *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithHeadless launches the browser without a visible window.
func WithHeadless(headless bool) Option {
	return func(m *Manager) { m.headless = headless }
}

// WithViewport overrides the default window size.
func WithViewport(width, height int) Option {
	return func(m *Manager) {
		if width > 0 && height > 0 {
			m.width, m.height = width, height
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a stopped manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		width:  DefaultViewportWidth,
		height: DefaultViewportHeight,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start installs the Playwright driver if needed and launches
// Chromium. Idempotent.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	// Driver output would otherwise interleave with our own logging.
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.headless),
	})
	if err != nil {
		if serr := pw.Stop(); serr != nil {
			m.log.Warn("stopping playwright after launch failure", "error", serr)
		}
		return fmt.Errorf("launch chromium: %w", err)
	}

	m.pw = pw
	m.browser = browser
	m.started = true
	m.log.Info("browser started", "headless", m.headless)
	return nil
}

// Open creates a new window navigated to url and returns its page.
func (m *Manager) Open(url string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil, fmt.Errorf("browser manager not started")
	}

	bctx, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: m.width, Height: m.height},
	})
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	pwPage, err := bctx.NewPage()
	if err != nil {
		if cerr := bctx.Close(); cerr != nil {
			m.log.Warn("closing context after page failure", "error", cerr)
		}
		return nil, fmt.Errorf("create page: %w", err)
	}

	// Wire events before navigating so the first load is observed.
	page := newPage(pwPage, bctx, m.log.With("url", url))

	if _, err := pwPage.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(navigateTimeout),
	}); err != nil {
		if cerr := page.Close(); cerr != nil {
			m.log.Warn("closing page after navigation failure", "error", cerr)
		}
		return nil, fmt.Errorf("open %s: %w", url, err)
	}

	m.pages = append(m.pages, page)
	return page, nil
}

// Stop closes all pages, the browser, and the driver. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	for _, page := range m.pages {
		if err := page.Close(); err != nil {
			m.log.Warn("closing page", "error", err)
		}
	}
	m.pages = nil

	var errs []error
	if err := m.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := m.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}

	m.browser = nil
	m.pw = nil
	m.started = false

	if len(errs) > 0 {
		return fmt.Errorf("browser shutdown: %v", errs)
	}
	return nil
}

// Running reports whether the browser process is up.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
