package luaext

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gobwas/glob"
)

// namePattern matches plugin names: lowercase alphanumeric with
// hyphens, starting with a letter, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern matches version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Manifest describes a Lua plugin: identity, the pages it applies to,
// and its configuration defaults.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`

	// Pages holds URL glob patterns. A script's per-page hooks only
	// fire for pages whose URL matches one of them; empty means every
	// page. Patterns use gobwas/glob syntax with no separator, so *
	// crosses path boundaries.
	Pages []string `json:"pages"`

	// Config holds the author's setting defaults, seeded into the
	// config store at registration.
	Config map[string]any `json:"config"`

	// EnabledDefault overrides the default-true enablement for fresh
	// installs. Absent means enabled.
	EnabledDefault *bool `json:"enabled_default"`

	dir   string
	globs []glob.Glob
}

// LoadManifest reads and validates <dir>/manifest.json. The plugin's
// init.lua must exist alongside it.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.dir = dir

	if err := m.validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(m.MainPath()); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryPoint, m.Name)
	}
	return &m, nil
}

// validate checks the manifest shape and compiles the page globs.
func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: name %q must be lowercase alphanumeric with hyphens", ErrInvalidManifest, m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: %s has no version", ErrInvalidManifest, m.Name)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s version %q is not semver", ErrInvalidManifest, m.Name, m.Version)
	}

	m.globs = make([]glob.Glob, 0, len(m.Pages))
	for _, pattern := range m.Pages {
		if pattern == "" {
			return fmt.Errorf("%w: %s has an empty page pattern", ErrInvalidManifest, m.Name)
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %s page pattern %q: %v", ErrInvalidManifest, m.Name, pattern, err)
		}
		m.globs = append(m.globs, g)
	}
	return nil
}

// Dir returns the plugin directory.
func (m *Manifest) Dir() string { return m.dir }

// MainPath returns the path to the plugin's init.lua.
func (m *Manifest) MainPath() string { return filepath.Join(m.dir, "init.lua") }

// Matches reports whether a page URL is covered by the manifest's
// page globs. An empty pattern list matches everything.
func (m *Manifest) Matches(url string) bool {
	if len(m.globs) == 0 {
		return true
	}
	for _, g := range m.globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Defaults returns the config store defaults derived from the
// manifest: the author's settings plus the reserved enabled key when
// enabled_default is set.
func (m *Manifest) Defaults() map[string]any {
	out := make(map[string]any, len(m.Config)+1)
	for k, v := range m.Config {
		out[k] = v
	}
	if m.EnabledDefault != nil {
		out["enabled"] = *m.EnabledDefault
	}
	return out
}

// String returns "name vVersion".
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
