package scrobble

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideband-shell/sideband/internal/proxy"
)

// DefaultListenBrainzURL is the listen submission endpoint.
const DefaultListenBrainzURL = "https://api.listenbrainz.org/1/submit-listens"

// ListenBrainzConfig carries the user token and optional endpoint
// override.
type ListenBrainzConfig struct {
	Token string
	URL   string
}

// ListenBrainz speaks the ListenBrainz JSON submission API.
type ListenBrainz struct {
	inv proxy.Invoker
	cfg ListenBrainzConfig
	log *slog.Logger
}

var _ Submitter = (*ListenBrainz)(nil)

// NewListenBrainz creates the adapter. A nil logger uses the default.
func NewListenBrainz(inv proxy.Invoker, cfg ListenBrainzConfig, log *slog.Logger) *ListenBrainz {
	if log == nil {
		log = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultListenBrainzURL
	}
	return &ListenBrainz{inv: inv, cfg: cfg, log: log.With("scrobbler", "listenbrainz")}
}

// Name identifies the backend.
func (l *ListenBrainz) Name() string { return "listenbrainz" }

type lbSubmission struct {
	ListenType string     `json:"listen_type"`
	Payload    []lbListen `json:"payload"`
}

type lbListen struct {
	ListenedAt    int64      `json:"listened_at,omitempty"`
	TrackMetadata lbMetadata `json:"track_metadata"`
}

type lbMetadata struct {
	ArtistName  string `json:"artist_name"`
	TrackName   string `json:"track_name"`
	ReleaseName string `json:"release_name,omitempty"`
	Additional  lbInfo `json:"additional_info"`
}

type lbInfo struct {
	DurationMS  int64  `json:"duration_ms,omitempty"`
	MediaPlayer string `json:"media_player"`
}

// NowPlaying submits a playing_now listen, which carries no timestamp
// and expires server-side.
func (l *ListenBrainz) NowPlaying(ctx context.Context, t Track) error {
	return l.submit(ctx, lbSubmission{
		ListenType: "playing_now",
		Payload:    []lbListen{{TrackMetadata: metadataFor(t)}},
	})
}

// Scrobble submits a single listen stamped with the track's start time.
func (l *ListenBrainz) Scrobble(ctx context.Context, t Track) error {
	if t.StartedAt.IsZero() {
		return fmt.Errorf("submit listen: missing start time for %q", t.Title)
	}
	return l.submit(ctx, lbSubmission{
		ListenType: "single",
		Payload: []lbListen{{
			ListenedAt:    t.StartedAt.Unix(),
			TrackMetadata: metadataFor(t),
		}},
	})
}

func metadataFor(t Track) lbMetadata {
	return lbMetadata{
		ArtistName:  t.Artist,
		TrackName:   t.Title,
		ReleaseName: t.Album,
		Additional: lbInfo{
			DurationMS:  t.Duration.Milliseconds(),
			MediaPlayer: "sideband",
		},
	}
}

func (l *ListenBrainz) submit(ctx context.Context, sub lbSubmission) error {
	if l.cfg.Token == "" {
		return fmt.Errorf("submit %s: %w", sub.ListenType, ErrNotConfigured)
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("submit %s: encode: %w", sub.ListenType, err)
	}

	resp, err := l.inv.Do(ctx, proxy.Request{
		Method: http.MethodPost,
		URL:    l.cfg.URL,
		Header: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Token " + l.cfg.Token,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", sub.ListenType, err)
	}

	switch {
	case resp.OK():
		return nil
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return fmt.Errorf("submit %s: status %d: %w", sub.ListenType, resp.Status, ErrUnauthorized)
	case resp.Status == http.StatusTooManyRequests:
		return fmt.Errorf("submit %s: status %d: %w", sub.ListenType, resp.Status, ErrRateLimited)
	default:
		msg := resp.JSON().Get("error").String()
		return fmt.Errorf("submit %s: status %d: %s", sub.ListenType, resp.Status, msg)
	}
}
