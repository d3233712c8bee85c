package session

import "strings"

// Well-known metadata source names, in default priority order.
const (
	SourceMediaSession  = "media-session"
	SourcePlayerBar     = "player-bar"
	SourceDocumentTitle = "document-title"
)

// DefaultSourceOrder is the default resolution policy: structured
// metadata first, scraped player-bar text second, document title last.
func DefaultSourceOrder() []string {
	return []string{SourceMediaSession, SourcePlayerBar, SourceDocumentTitle}
}

// Candidates holds per-source track readings gathered by the caller.
// Sources that yielded nothing are simply absent.
type Candidates map[string]Track

// Resolver applies the source priority policy. The order is
// page-dependent heuristic, so it is configuration rather than a fixed
// contract.
type Resolver struct {
	// Order lists source names by preference. Empty means
	// DefaultSourceOrder.
	Order []string
}

// Resolve returns the first candidate with a complete identity,
// following the configured order. Unknown source names are skipped.
func (r Resolver) Resolve(c Candidates) (Track, bool) {
	order := r.Order
	if len(order) == 0 {
		order = DefaultSourceOrder()
	}
	for _, source := range order {
		track, ok := c[source]
		if !ok {
			continue
		}
		if track.Identity().Valid() {
			return track, true
		}
	}
	return Track{}, false
}

// ParseDocumentTitle extracts a track from a document title of the
// common "Title - Artist" shape, after stripping a trailing site suffix
// ("Title - Artist - Site"). Suffixes are compared case-insensitively.
func ParseDocumentTitle(title string, suffixes []string) (Track, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Track{}, false
	}

	for _, suffix := range suffixes {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		if strings.HasSuffix(strings.ToLower(title), " - "+strings.ToLower(suffix)) {
			title = strings.TrimSpace(title[:len(title)-len(suffix)-3])
			break
		}
	}

	parts := strings.SplitN(title, " - ", 2)
	if len(parts) != 2 {
		return Track{}, false
	}

	track := Track{
		Title:  strings.TrimSpace(parts[0]),
		Artist: strings.TrimSpace(parts[1]),
	}
	if !track.Identity().Valid() {
		return Track{}, false
	}
	return track, true
}
