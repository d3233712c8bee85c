package browser

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/sideband-shell/sideband/internal/renderer"
)

// eventBuffer bounds the page event channel. The owning context drains
// it continuously; the buffer only has to absorb the burst between
// opening a page and attaching the context.
const eventBuffer = 32

// Page adapts a Playwright page to renderer.Page. One Page owns one
// isolated browser context.
type Page struct {
	pw   playwright.Page
	bctx playwright.BrowserContext
	log  *slog.Logger

	evMu   sync.Mutex
	events chan renderer.PageEvent
	closed bool

	closeOnce sync.Once
}

var (
	_ renderer.Page           = (*Page)(nil)
	_ renderer.MetadataReader = (*Page)(nil)
)

// newPage wires Playwright events into the renderer event vocabulary.
// Must be called before the first navigation so the initial load is
// observed.
func newPage(pw playwright.Page, bctx playwright.BrowserContext, log *slog.Logger) *Page {
	p := &Page{
		pw:     pw,
		bctx:   bctx,
		log:    log,
		events: make(chan renderer.PageEvent, eventBuffer),
	}

	// framenavigated covers hard navigations and in-app route changes;
	// only the main frame matters.
	pw.OnFrameNavigated(func(f playwright.Frame) {
		if f != p.pw.MainFrame() {
			return
		}
		p.emit(renderer.PageEvent{Kind: renderer.EventNavigated, URL: f.URL()})
	})

	// A DOMContentLoaded means the previous document is gone, so the
	// replacement event always precedes the content event.
	pw.OnDOMContentLoaded(func(pg playwright.Page) {
		url := pg.URL()
		p.emit(renderer.PageEvent{Kind: renderer.EventDocumentReplaced, URL: url})
		p.emit(renderer.PageEvent{Kind: renderer.EventContentLoaded, URL: url})
	})

	pw.OnClose(func(playwright.Page) {
		p.shutdown()
	})

	return p
}

// emit delivers an event without ever blocking Playwright's dispatch
// goroutine. Overflow drops the event; the watcher's polling recovers.
func (p *Page) emit(ev renderer.PageEvent) {
	p.evMu.Lock()
	defer p.evMu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warn("page event dropped", "kind", ev.Kind.String(), "url", ev.URL)
	}
}

// shutdown closes the event stream exactly once.
func (p *Page) shutdown() {
	p.evMu.Lock()
	defer p.evMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

// eval runs a snippet in the document. Errors surface as ok=false;
// a page mid-navigation or torn down is indistinguishable from absent
// markup, and both mean "not now".
func (p *Page) eval(js string, arg any) (any, bool) {
	var (
		res any
		err error
	)
	if arg == nil {
		res, err = p.pw.Evaluate(js)
	} else {
		res, err = p.pw.Evaluate(js, arg)
	}
	if err != nil {
		p.log.Debug("evaluate failed", "error", err)
		return nil, false
	}
	return res, true
}

// URL returns the page URL.
func (p *Page) URL() string {
	return p.pw.URL()
}

// Title returns the document title, empty when unavailable.
func (p *Page) Title() string {
	title, err := p.pw.Title()
	if err != nil {
		return ""
	}
	return title
}

// QueryText returns the collapsed text content of the first match.
func (p *Page) QueryText(selector string) (string, bool) {
	res, ok := p.eval(jsQueryText, selector)
	if !ok || res == nil {
		return "", false
	}
	s, ok := res.(string)
	if !ok {
		return "", false
	}
	return collapseText(s), true
}

// QueryAttr returns an attribute of the first match. Elements present
// without the attribute report ok=false.
func (p *Page) QueryAttr(selector, attr string) (string, bool) {
	res, ok := p.eval(jsQueryAttr, map[string]any{"sel": selector, "attr": attr})
	if !ok || res == nil {
		return "", false
	}
	s, ok := res.(string)
	return s, ok
}

// Exists reports whether any element matches selector.
func (p *Page) Exists(selector string) bool {
	res, ok := p.eval(jsExists, selector)
	return ok && asBool(res)
}

// MediaState reads the page's primary media element.
func (p *Page) MediaState() (renderer.MediaState, bool) {
	res, ok := p.eval(jsMediaState, nil)
	if !ok {
		return renderer.MediaState{}, false
	}
	return parseMediaState(res)
}

// Metadata reads the page's media-session metadata, ok=false when the
// page has not published any.
func (p *Page) Metadata() (renderer.PageMetadata, bool) {
	res, ok := p.eval(jsMediaMetadata, nil)
	if !ok {
		return renderer.PageMetadata{}, false
	}
	return parseMetadata(res)
}

// InsertCSS installs a stylesheet under key, replacing any prior sheet
// with the same key.
func (p *Page) InsertCSS(key, css string) error {
	if _, err := p.pw.Evaluate(jsInsertCSS, map[string]any{"key": key, "css": css}); err != nil {
		return fmt.Errorf("insert css %q: %w", key, err)
	}
	return nil
}

// RemoveCSS removes the stylesheet under key. Absent keys are a no-op.
func (p *Page) RemoveCSS(key string) error {
	if _, err := p.pw.Evaluate(jsRemoveCSS, key); err != nil {
		return fmt.Errorf("remove css %q: %w", key, err)
	}
	return nil
}

// Click clicks the first element matching selector with a synthetic
// DOM click. Playwright's own click waits for actionability, which can
// stall forever on overlaid player chrome.
func (p *Page) Click(selector string) error {
	res, err := p.pw.Evaluate(jsClick, selector)
	if err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	if !asBool(res) {
		return renderer.ErrNoSuchElement
	}
	return nil
}

// SetMuted mutes or unmutes the primary media element. Without a
// mounted element this is a no-op; callers re-assert anyway.
func (p *Page) SetMuted(muted bool) error {
	if _, err := p.pw.Evaluate(jsSetMuted, muted); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}

// Events delivers page lifecycle events. The channel closes when the
// window closes.
func (p *Page) Events() <-chan renderer.PageEvent {
	return p.events
}

// Close tears down the page and its browser context. Idempotent.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		// Closing the Playwright page fires OnClose, which shuts the
		// event stream down.
		if cerr := p.pw.Close(); cerr != nil {
			err = cerr
		}
		if cerr := p.bctx.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.shutdown()
	})
	return err
}
