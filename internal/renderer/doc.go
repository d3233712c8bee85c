// Package renderer models the foreign web-player page and the execution
// environments Sideband drives inside it.
//
// A Context wraps one window's page. It runs an actor loop that owns all
// timers, page-event fan-out, and program callbacks for that window, so
// renderer-side state never needs cross-goroutine locking: everything a
// program does happens on its context's loop. Contexts are independent;
// the only channels back to the host are the proxy broker and the
// session feed, both explicit.
//
// A Page is the read/write surface of the document itself. Two
// implementations exist: a Playwright-driven real browser page
// (renderer/browser) and an in-memory page for tests
// (renderer/rendertest). The interface is deliberately typed (selector
// queries, media state, CSS insertion by key) so programs describe
// behavior with data rather than generated script text.
//
// A Program is a renderer-side behavior body. Plugins do not hand the
// injector code strings; they reference a registered program identifier
// plus a config snapshot, and the injector instantiates the body from
// the Registry. See renderer/inject for the injection protocol.
package renderer
