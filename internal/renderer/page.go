package renderer

import "time"

// EventKind classifies page events delivered to a Context.
type EventKind int

const (
	// EventNavigated fires when the page URL changes, whether through a
	// hard navigation or an in-app route change.
	EventNavigated EventKind = iota

	// EventDocumentReplaced fires when the document is torn down and
	// rebuilt (hard navigation, reload). Everything previously attached
	// to the document is gone.
	EventDocumentReplaced

	// EventContentLoaded fires when a new document's DOM is ready.
	EventContentLoaded
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventNavigated:
		return "navigated"
	case EventDocumentReplaced:
		return "document-replaced"
	case EventContentLoaded:
		return "content-loaded"
	default:
		return "unknown"
	}
}

// PageEvent is one page lifecycle event.
type PageEvent struct {
	Kind EventKind

	// URL is the page URL at event time.
	URL string
}

// MediaState is a point-in-time reading of the page's primary media
// element.
type MediaState struct {
	Position time.Duration
	Duration time.Duration
	Paused   bool
	Ended    bool
}

// PageMetadata is the structured now-playing description a document
// publishes through the browser media-session API.
type PageMetadata struct {
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
}

// MetadataReader is an optional Page capability: structured metadata
// straight from the page, preferred over DOM scraping when present.
// Discovered by type assertion.
type MetadataReader interface {
	Metadata() (PageMetadata, bool)
}

// Page is the surface of one foreign document. Implementations must be
// safe for use from the owning context's loop goroutine; queries are
// best-effort reads of an externally-owned DOM and report ok=false when
// the target is absent.
type Page interface {
	// URL returns the current page URL.
	URL() string

	// Title returns the document title.
	Title() string

	// QueryText returns the trimmed text content of the first element
	// matching selector.
	QueryText(selector string) (string, bool)

	// QueryAttr returns an attribute of the first element matching
	// selector.
	QueryAttr(selector, attr string) (string, bool)

	// Exists reports whether any element matches selector.
	Exists(selector string) bool

	// MediaState reads the primary media element, ok=false when none is
	// mounted.
	MediaState() (MediaState, bool)

	// InsertCSS installs a stylesheet under a caller-chosen key,
	// replacing any prior sheet with the same key.
	InsertCSS(key, css string) error

	// RemoveCSS removes the stylesheet installed under key. Removing an
	// absent key is a no-op.
	RemoveCSS(key string) error

	// Click clicks the first element matching selector.
	Click(selector string) error

	// SetMuted mutes or unmutes the primary media element.
	SetMuted(muted bool) error

	// Events delivers page lifecycle events. The channel closes when
	// the page is gone (window closed).
	Events() <-chan PageEvent

	// Close releases the page. Idempotent.
	Close() error
}
