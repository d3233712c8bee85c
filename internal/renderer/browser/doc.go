// Package browser backs renderer pages with a real Chromium instance
// driven through playwright-go.
//
// The Manager owns the Playwright driver and one browser process; each
// Open call creates an isolated browser context with a single page
// navigated to the player URL. Pages implement renderer.Page: DOM
// queries and mutations run as JavaScript in the foreign document, and
// Playwright's frame events map onto the renderer's page event
// vocabulary (navigated, document-replaced, content-loaded).
//
// The player web app owns its DOM. Every query here is a best-effort
// read of markup that can change or vanish between releases, which is
// why absence reports ok=false instead of an error.
package browser
