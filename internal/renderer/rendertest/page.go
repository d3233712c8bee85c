package rendertest

import (
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/sideband-shell/sideband/internal/renderer"
)

// Page is a fake renderer.Page over a parsed HTML document.
type Page struct {
	mu        sync.Mutex
	url       string
	doc       *html.Node
	css       map[string]string
	muted     bool
	media     renderer.MediaState
	haveMedia bool
	meta      renderer.PageMetadata
	haveMeta  bool
	clicks    []string

	events    chan renderer.PageEvent
	closeOnce sync.Once
}

var (
	_ renderer.Page           = (*Page)(nil)
	_ renderer.MetadataReader = (*Page)(nil)
)

// NewPage parses src as the page document. An empty src yields an empty
// document.
func NewPage(url, src string) *Page {
	p := &Page{
		url:    url,
		css:    make(map[string]string),
		events: make(chan renderer.PageEvent, 32),
	}
	p.doc = parse(src)
	return p
}

func parse(src string) *html.Node {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		// html.Parse on a string reader only fails on malformed
		// encodings; fall back to an empty document.
		doc, _ = html.Parse(strings.NewReader(""))
	}
	return doc
}

// URL returns the current page URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Title returns the document title element's text.
func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := find(p.doc, "title"); n != nil {
		return textContent(n)
	}
	return ""
}

// QueryText returns the trimmed text of the first match.
func (p *Page) QueryText(selector string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := find(p.doc, selector)
	if n == nil {
		return "", false
	}
	return textContent(n), true
}

// QueryAttr returns an attribute of the first match.
func (p *Page) QueryAttr(selector, attr string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := find(p.doc, selector)
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == attr {
			return a.Val, true
		}
	}
	return "", false
}

// Exists reports whether any element matches.
func (p *Page) Exists(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return find(p.doc, selector) != nil
}

// MediaState reports the test-controlled media element.
func (p *Page) MediaState() (renderer.MediaState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.media, p.haveMedia
}

// Metadata reports the test-controlled media-session metadata.
func (p *Page) Metadata() (renderer.PageMetadata, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta, p.haveMeta
}

// InsertCSS records a stylesheet under key.
func (p *Page) InsertCSS(key, css string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.css[key] = css
	return nil
}

// RemoveCSS drops the stylesheet under key.
func (p *Page) RemoveCSS(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.css, key)
	return nil
}

// Click records a click on the first match.
func (p *Page) Click(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if find(p.doc, selector) == nil {
		return renderer.ErrNoSuchElement
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

// SetMuted records the mute flag.
func (p *Page) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	return nil
}

// Events delivers lifecycle events fired by the test.
func (p *Page) Events() <-chan renderer.PageEvent {
	return p.events
}

// Close closes the event stream. Idempotent.
func (p *Page) Close() error {
	p.closeOnce.Do(func() { close(p.events) })
	return nil
}

// SetMedia installs or updates the media element reading.
func (p *Page) SetMedia(st renderer.MediaState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media = st
	p.haveMedia = true
}

// ClearMedia removes the media element.
func (p *Page) ClearMedia() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media = renderer.MediaState{}
	p.haveMedia = false
}

// SetMetadata installs media-session metadata.
func (p *Page) SetMetadata(m renderer.PageMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta = m
	p.haveMeta = true
}

// ClearMetadata removes the media-session metadata.
func (p *Page) ClearMetadata() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta = renderer.PageMetadata{}
	p.haveMeta = false
}

// SetHTML swaps the document body without firing events, imitating
// in-place DOM mutation by the foreign app.
func (p *Page) SetHTML(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = parse(src)
}

// SetURL changes the URL without firing any event, imitating a route
// change the backend missed. Only polling can observe it.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Navigate changes the URL in place and fires a navigated event, the
// soft route change of a single-page app.
func (p *Page) Navigate(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.events <- renderer.PageEvent{Kind: renderer.EventNavigated, URL: url}
}

// ReplaceDocument swaps URL and document and fires a document-replaced
// event, a hard navigation. The media element and metadata are dropped
// with the old document.
func (p *Page) ReplaceDocument(url, src string) {
	p.mu.Lock()
	p.url = url
	p.doc = parse(src)
	p.media = renderer.MediaState{}
	p.haveMedia = false
	p.meta = renderer.PageMetadata{}
	p.haveMeta = false
	p.mu.Unlock()
	p.events <- renderer.PageEvent{Kind: renderer.EventDocumentReplaced, URL: url}
}

// Load fires a content-loaded event for the current document.
func (p *Page) Load() {
	p.mu.Lock()
	url := p.url
	p.mu.Unlock()
	p.events <- renderer.PageEvent{Kind: renderer.EventContentLoaded, URL: url}
}

// CSS returns a copy of the installed stylesheets by key.
func (p *Page) CSS() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.css))
	for k, v := range p.css {
		out[k] = v
	}
	return out
}

// Muted returns the recorded mute flag.
func (p *Page) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Clicks returns the recorded click selectors in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.clicks))
	copy(out, p.clicks)
	return out
}
