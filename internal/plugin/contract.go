package plugin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/renderer"
)

// namePattern validates plugin names: lowercase alphanumeric with
// hyphens, starting with a letter, not ending with a hyphen.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// Metadata identifies a plugin. It is immutable and author-defined; the
// name is the unique registration key.
type Metadata struct {
	Name        string
	Description string
	Version     string
}

// Validate checks the metadata shape.
func (m Metadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMetadata)
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: name %q must be lowercase alphanumeric with hyphens", ErrInvalidMetadata, m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: plugin %q has no version", ErrInvalidMetadata, m.Name)
	}
	return nil
}

// Plugin is the minimal contract: immutable metadata. Everything else
// is optional capability interfaces discovered by type assertion.
type Plugin interface {
	Metadata() Metadata
}

// Configurable supplies author defaults for the config store. A
// reserved "enabled" key overrides the default-true enablement.
type Configurable interface {
	DefaultConfig() map[string]any
}

// ReadyHook runs once the host process is up.
type ReadyHook interface {
	OnHostReady(ctx context.Context) error
}

// ContextHook runs when a renderer context is created. Plugins enabled
// after contexts already exist receive a synthetic replay.
type ContextHook interface {
	OnContextCreated(ctx context.Context, rc *renderer.Context) error
}

// ContentHook runs when a context's document finished loading.
type ContentHook interface {
	OnContentLoaded(ctx context.Context, rc *renderer.Context) error
}

// ConfigHook runs after the plugin's configuration changed and was
// persisted. The snapshot is the merged post-change view.
type ConfigHook interface {
	OnConfigChanged(ctx context.Context, cfg config.Snapshot) error
}

// DisableHook runs when the plugin transitions from enabled to disabled.
type DisableHook interface {
	OnDisabled(ctx context.Context) error
}

// TeardownHook runs when a renderer context is destroyed.
type TeardownHook interface {
	OnContextDestroyed(ctx context.Context, rc *renderer.Context) error
}

// Closer releases plugin-held resources at process exit. Unlike
// OnDisabled it runs exactly once, for every registered plugin, enabled
// or not.
type Closer interface {
	Close()
}

// Info is the settings-surface view of a registered plugin.
type Info struct {
	Name        string
	Description string
	Version     string
	Enabled     bool
}
