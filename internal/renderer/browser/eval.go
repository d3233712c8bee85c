package browser

import (
	"strings"
	"time"

	"github.com/sideband-shell/sideband/internal/renderer"
)

// JavaScript run inside the player document. Each snippet is a single
// arrow function; Playwright calls it with the evaluation argument.
const (
	jsMediaState = `() => {
		const m = document.querySelector('video, audio');
		if (!m) return null;
		return {
			position: m.currentTime || 0,
			duration: Number.isFinite(m.duration) ? m.duration : 0,
			paused: m.paused,
			ended: m.ended
		};
	}`

	jsMediaMetadata = `() => {
		const md = navigator.mediaSession && navigator.mediaSession.metadata;
		if (!md) return null;
		const art = (md.artwork && md.artwork.length)
			? md.artwork[md.artwork.length - 1].src
			: '';
		return {
			title: md.title || '',
			artist: md.artist || '',
			album: md.album || '',
			artwork: art || ''
		};
	}`

	jsQueryText = `sel => {
		const el = document.querySelector(sel);
		return el ? el.textContent : null;
	}`

	jsQueryAttr = `args => {
		const el = document.querySelector(args.sel);
		return el ? el.getAttribute(args.attr) : null;
	}`

	jsExists = `sel => document.querySelector(sel) !== null`

	jsInsertCSS = `args => {
		const attr = 'data-sideband-style';
		let el = Array.from(document.querySelectorAll('style[' + attr + ']'))
			.find(s => s.getAttribute(attr) === args.key);
		if (!el) {
			el = document.createElement('style');
			el.setAttribute(attr, args.key);
			(document.head || document.documentElement).appendChild(el);
		}
		el.textContent = args.css;
		return true;
	}`

	jsRemoveCSS = `key => {
		const attr = 'data-sideband-style';
		const el = Array.from(document.querySelectorAll('style[' + attr + ']'))
			.find(s => s.getAttribute(attr) === key);
		if (!el) return false;
		el.remove();
		return true;
	}`

	jsClick = `sel => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.click();
		return true;
	}`

	jsSetMuted = `muted => {
		const m = document.querySelector('video, audio');
		if (!m) return false;
		m.muted = muted;
		return true;
	}`
)

// asFloat normalizes the numeric types Playwright evaluation results
// come back as. Integral JavaScript numbers arrive as int.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// seconds converts a JavaScript seconds value to a Duration.
func seconds(v any) time.Duration {
	return time.Duration(asFloat(v) * float64(time.Second))
}

// parseMediaState decodes the jsMediaState result. A nil result means
// no media element is mounted.
func parseMediaState(v any) (renderer.MediaState, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return renderer.MediaState{}, false
	}
	return renderer.MediaState{
		Position: seconds(m["position"]),
		Duration: seconds(m["duration"]),
		Paused:   asBool(m["paused"]),
		Ended:    asBool(m["ended"]),
	}, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// parseMetadata decodes the jsMediaMetadata result. A nil result means
// the page has not published media-session metadata.
func parseMetadata(v any) (renderer.PageMetadata, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return renderer.PageMetadata{}, false
	}
	return renderer.PageMetadata{
		Title:      asString(m["title"]),
		Artist:     asString(m["artist"]),
		Album:      asString(m["album"]),
		ArtworkURL: asString(m["artwork"]),
	}, true
}

// collapseText reduces runs of whitespace to single spaces and trims,
// matching how selectors-facing text reads in the player UI.
func collapseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
