package builtin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sideband-shell/sideband/internal/companion"
	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/session"
)

const companionName = "companion"

// Companion exposes the now-playing feed to external tools over the
// local companion server.
type Companion struct {
	server *companion.Server
	log    *slog.Logger

	mu    sync.Mutex
	cfg   config.Snapshot
	ready bool
}

var (
	_ plugin.Plugin       = (*Companion)(nil)
	_ plugin.Configurable = (*Companion)(nil)
	_ plugin.ReadyHook    = (*Companion)(nil)
	_ plugin.ConfigHook   = (*Companion)(nil)
	_ plugin.DisableHook  = (*Companion)(nil)
)

// NewCompanion creates the plugin. A nil logger uses the default.
func NewCompanion(feed *session.Feed, log *slog.Logger) *Companion {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("plugin", companionName)
	c := &Companion{
		server: companion.NewServer(feed, companion.WithServerLogger(log)),
		log:    log,
	}
	c.cfg = seedSnapshot(companionName, c.DefaultConfig())
	return c
}

func (c *Companion) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        companionName,
		Description: "Serves now-playing state to local companion apps.",
		Version:     Version,
	}
}

func (c *Companion) DefaultConfig() map[string]any {
	return map[string]any{
		"enabled": false,
		"port":    companion.DefaultPort,
	}
}

// OnHostReady binds the server. A bind failure is returned for the
// host to log; the server stays stopped until the port config moves.
func (c *Companion) OnHostReady(context.Context) error {
	c.mu.Lock()
	c.ready = true
	port := c.portLocked()
	c.mu.Unlock()
	return c.server.Start(port)
}

// OnConfigChanged rebinds when the port moved, and doubles as the
// retry path after a failed bind.
func (c *Companion) OnConfigChanged(_ context.Context, cfg config.Snapshot) error {
	c.mu.Lock()
	old := c.portLocked()
	c.cfg = cfg
	port := c.portLocked()
	ready := c.ready
	c.mu.Unlock()

	if !ready {
		return nil
	}
	if c.server.Running() && old == port {
		return nil
	}
	c.server.Stop()
	return c.server.Start(port)
}

// OnDisabled stops serving; the feed subscription stays warm for a
// later re-enable.
func (c *Companion) OnDisabled(context.Context) error {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.server.Stop()
	return nil
}

// Close shuts the server down for good.
func (c *Companion) Close() {
	c.server.Close()
}

func (c *Companion) portLocked() int {
	return c.cfg.Int("port", companion.DefaultPort)
}
