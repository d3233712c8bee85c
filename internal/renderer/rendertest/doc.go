// Package rendertest provides an in-memory renderer.Page backed by a
// parsed HTML document, for exercising programs, watchers, and
// injection without a browser. Tests drive it directly: swap documents,
// toggle the media element, and fire lifecycle events.
package rendertest
