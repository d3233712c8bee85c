package builtin

import (
	"fmt"
	"strings"
	"time"

	"github.com/sideband-shell/sideband/internal/renderer"
	"github.com/sideband-shell/sideband/internal/renderer/inject"
)

// Behavior identifiers for the built-in renderer programs.
const (
	// BehaviorStyle installs a stylesheet assembled from config.
	BehaviorStyle = "style"

	// BehaviorMute mutes playback while an ad marker element is present.
	BehaviorMute = "mute"

	// BehaviorAdSkip composes style and mute with skip-button clicking.
	BehaviorAdSkip = "adskip"

	// BehaviorSession scrapes now-playing state into the session feed.
	BehaviorSession = "session-tracker"
)

const defaultAdPollInterval = 500 * time.Millisecond

// RegisterPrograms installs every built-in behavior into the registry.
func RegisterPrograms(reg *renderer.Registry) error {
	programs := map[string]renderer.Factory{
		BehaviorStyle:   func() renderer.Program { return &styleProgram{} },
		BehaviorMute:    func() renderer.Program { return &muteProgram{} },
		BehaviorAdSkip:  func() renderer.Program { return &adskipProgram{} },
		BehaviorSession: func() renderer.Program { return &sessionProgram{} },
	}
	for behavior, f := range programs {
		if err := reg.Register(behavior, f); err != nil {
			return err
		}
	}
	return nil
}

// adPollInterval reads the shared ad-state polling interval setting.
func adPollInterval(rt *renderer.Runtime) time.Duration {
	ms := rt.Config.Int("poll_ms", 0)
	if ms <= 0 {
		return defaultAdPollInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// styleProgram installs one stylesheet per activation: a display:none
// rule per hide_selectors entry plus optional raw css. The app rebuilds
// <head> on occasion and drops injected sheets, so the sheet is
// re-applied on reassert.
type styleProgram struct {
	rt    *renderer.Runtime
	key   string
	sheet string
}

var _ inject.Reasserter = (*styleProgram)(nil)

func (p *styleProgram) Start(rt *renderer.Runtime) error {
	var b strings.Builder
	for _, sel := range rt.Config.Strings("hide_selectors", nil) {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		fmt.Fprintf(&b, "%s { display: none !important; }\n", sel)
	}
	if extra := strings.TrimSpace(rt.Config.String("css", "")); extra != "" {
		b.WriteString(extra)
		b.WriteByte('\n')
	}
	sheet := b.String()
	if sheet == "" {
		// Nothing configured; stay mounted as a no-op.
		return nil
	}

	p.rt = rt
	p.key = rt.Plugin + "/style"
	p.sheet = sheet
	return p.apply()
}

func (p *styleProgram) apply() error {
	if err := p.rt.Context.Page().InsertCSS(p.key, p.sheet); err != nil {
		return fmt.Errorf("style %s: %w", p.rt.Plugin, err)
	}
	return nil
}

func (p *styleProgram) Reassert() {
	if p.rt == nil {
		return
	}
	if err := p.apply(); err != nil {
		p.rt.Log.Debug("style reassert failed", "error", err)
	}
}

func (p *styleProgram) Stop() {
	if p.rt == nil {
		return
	}
	if err := p.rt.Context.Page().RemoveCSS(p.key); err != nil {
		p.rt.Log.Debug("style removal failed", "error", err)
	}
	p.rt = nil
}

// muteProgram polls for ad marker elements and mutes the media element
// while one is present. The player rewrites the element between ads, so
// reassert re-applies the current decision instead of trusting it.
type muteProgram struct {
	rt         *renderer.Runtime
	selectors  []string
	cancelPoll func()
	muted      bool
}

var _ inject.Reasserter = (*muteProgram)(nil)

func (p *muteProgram) Start(rt *renderer.Runtime) error {
	p.rt = rt
	p.selectors = rt.Config.Strings("ad_selectors", []string{".ad-showing"})
	p.cancelPoll = rt.Context.Every(adPollInterval(rt), p.tick)
	p.tick()
	return nil
}

func (p *muteProgram) adShowing() bool {
	for _, sel := range p.selectors {
		if p.rt.Context.Page().Exists(sel) {
			return true
		}
	}
	return false
}

func (p *muteProgram) tick() {
	want := p.adShowing()
	if want == p.muted {
		return
	}
	p.set(want)
}

func (p *muteProgram) set(want bool) {
	if err := p.rt.Context.Page().SetMuted(want); err != nil {
		p.rt.Log.Debug("ad mute toggle failed", "muted", want, "error", err)
		return
	}
	p.muted = want
	p.rt.Log.Debug("ad mute", "muted", want)
}

func (p *muteProgram) Reassert() {
	if p.rt == nil {
		return
	}
	p.set(p.adShowing())
}

func (p *muteProgram) Stop() {
	if p.rt == nil {
		return
	}
	p.cancelPoll()
	if p.muted {
		p.set(false)
	}
	p.rt = nil
}

// adskipProgram is the composite ad treatment: hide ad surfaces, mute
// ad breaks, and click skip buttons as soon as they appear.
type adskipProgram struct {
	style styleProgram
	mute  muteProgram

	rt         *renderer.Runtime
	selectors  []string
	cancelPoll func()
	skips      int
}

var _ inject.Reasserter = (*adskipProgram)(nil)

func (p *adskipProgram) Start(rt *renderer.Runtime) error {
	if err := p.style.Start(rt); err != nil {
		return err
	}
	if err := p.mute.Start(rt); err != nil {
		p.style.Stop()
		return err
	}
	p.rt = rt
	p.selectors = rt.Config.Strings("skip_selectors", []string{".ytp-ad-skip-button"})
	p.cancelPoll = rt.Context.Every(adPollInterval(rt), p.tick)
	p.tick()
	return nil
}

func (p *adskipProgram) tick() {
	for _, sel := range p.selectors {
		if !p.rt.Context.Page().Exists(sel) {
			continue
		}
		// The button can unmount between the check and the click when
		// the ad ends on its own; that race is not worth reporting.
		if err := p.rt.Context.Page().Click(sel); err != nil {
			p.rt.Log.Debug("skip click failed", "selector", sel, "error", err)
			continue
		}
		p.skips++
		p.rt.Log.Info("skipped ad", "selector", sel, "total", p.skips)
		return
	}
}

func (p *adskipProgram) Reassert() {
	p.style.Reassert()
	p.mute.Reassert()
	if p.rt != nil {
		p.tick()
	}
}

func (p *adskipProgram) Stop() {
	if p.rt != nil {
		p.cancelPoll()
		p.rt = nil
	}
	p.mute.Stop()
	p.style.Stop()
}
