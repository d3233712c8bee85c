package builtin

import (
	"log/slog"

	"github.com/gobwas/glob"

	"github.com/sideband-shell/sideband/internal/config"
)

// Version stamps every built-in plugin's metadata. Built-ins ship with
// the shell and share its release cadence.
const Version = "1.0.0"

// defaultPages is the page gate built-ins start with.
var defaultPages = []string{"*music.youtube.com*"}

// compileGlobs builds page matchers, skipping patterns that fail to
// compile. Globs use no separator so patterns cross path boundaries.
func compileGlobs(patterns []string, log *slog.Logger) []glob.Glob {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			log.Warn("bad page pattern", "pattern", pattern, "error", err)
			continue
		}
		out = append(out, g)
	}
	return out
}

// matchAny reports whether any compiled glob matches the URL. An empty
// set matches everything.
func matchAny(globs []glob.Glob, url string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// pagesOf reads the "pages" setting with the built-in default.
func pagesOf(cfg config.Snapshot) []string {
	return cfg.Strings("pages", defaultPages)
}

// seedSnapshot builds the pre-host view of a plugin's config from its
// author defaults. The host replaces it with the merged snapshot when
// it seeds the config hook at startup.
func seedSnapshot(name string, defaults map[string]any) config.Snapshot {
	settings := make(map[string]any, len(defaults))
	for k, v := range defaults {
		settings[k] = v
	}
	return config.Snapshot{Plugin: name, Enabled: true, Settings: settings}
}
