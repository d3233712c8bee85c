package builtin

import (
	"context"
	"log/slog"
	"time"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/plugin"
	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
)

const adskipName = "adskip"

// defaultAdReassert re-applies the ad treatment periodically; the
// player aggressively restores its own DOM around ad breaks.
const defaultAdReassert = 5 * time.Second

// AdSkip is the cosmetic ad treatment: it keeps the adskip composite
// program (hide, mute, click-skip) injected on matching player pages.
type AdSkip struct {
	gate *pageGate
}

var (
	_ plugin.Plugin       = (*AdSkip)(nil)
	_ plugin.Configurable = (*AdSkip)(nil)
	_ plugin.ContextHook  = (*AdSkip)(nil)
	_ plugin.ContentHook  = (*AdSkip)(nil)
	_ plugin.ConfigHook   = (*AdSkip)(nil)
	_ plugin.DisableHook  = (*AdSkip)(nil)
	_ plugin.TeardownHook = (*AdSkip)(nil)
)

// NewAdSkip creates the plugin. A nil logger uses the default.
func NewAdSkip(injector *inject.Injector, log *slog.Logger) *AdSkip {
	if log == nil {
		log = slog.Default()
	}
	a := &AdSkip{}
	a.gate = newPageGate(adskipName, injector, a.unit, a.DefaultConfig(), log.With("plugin", adskipName))
	return a
}

func (a *AdSkip) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        adskipName,
		Description: "Hides ad surfaces, mutes ad breaks, and clicks skip buttons.",
		Version:     Version,
	}
}

func (a *AdSkip) DefaultConfig() map[string]any {
	return map[string]any{
		"pages":          []string{"*music.youtube.com*"},
		"hide_selectors": []string{".ytp-ad-module", ".ytp-ad-overlay-container"},
		"ad_selectors":   []string{".ad-showing"},
		"skip_selectors": []string{".ytp-ad-skip-button", ".ytp-skip-ad-button"},
		"poll_ms":        500,
		"reassert_s":     5,
	}
}

func (a *AdSkip) unit(cfg config.Snapshot) inject.Unit {
	reassert := defaultAdReassert
	if s := cfg.Int("reassert_s", 0); s > 0 {
		reassert = time.Duration(s) * time.Second
	}
	return inject.Unit{
		Plugin:   adskipName,
		Behavior: BehaviorAdSkip,
		Config:   cfg,
		Reassert: reassert,
	}
}

func (a *AdSkip) OnConfigChanged(_ context.Context, cfg config.Snapshot) error {
	a.gate.setConfig(cfg)
	return nil
}

func (a *AdSkip) OnContextCreated(_ context.Context, rc *renderer.Context) error {
	a.gate.addContext(rc)
	return nil
}

func (a *AdSkip) OnContentLoaded(_ context.Context, rc *renderer.Context) error {
	a.gate.addContext(rc)
	return nil
}

func (a *AdSkip) OnContextDestroyed(_ context.Context, rc *renderer.Context) error {
	a.gate.removeContext(rc)
	return nil
}

func (a *AdSkip) OnDisabled(context.Context) error {
	a.gate.ejectAll()
	return nil
}
