package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sideband-shell/sideband/internal/config"
	"github.com/sideband-shell/sideband/internal/renderer"
)

// testPlugin records every hook invocation and can be told to fail or
// panic on a given hook name.
type testPlugin struct {
	meta     Metadata
	defaults map[string]any

	failOn  string
	panicOn string

	mu      sync.Mutex
	calls   []string
	lastCfg config.Snapshot
}

func newTestPlugin(name string) *testPlugin {
	return &testPlugin{
		meta: Metadata{Name: name, Description: "test plugin", Version: "1.0.0"},
	}
}

func (p *testPlugin) Metadata() Metadata { return p.meta }

func (p *testPlugin) DefaultConfig() map[string]any { return p.defaults }

func (p *testPlugin) record(hook string) error {
	p.mu.Lock()
	p.calls = append(p.calls, hook)
	p.mu.Unlock()
	if p.panicOn == hook {
		panic("boom in " + hook)
	}
	if p.failOn == hook {
		return fmt.Errorf("%s failed", hook)
	}
	return nil
}

func (p *testPlugin) OnHostReady(context.Context) error { return p.record("ready") }

func (p *testPlugin) OnContextCreated(_ context.Context, _ *renderer.Context) error {
	return p.record("context")
}

func (p *testPlugin) OnContentLoaded(_ context.Context, _ *renderer.Context) error {
	return p.record("content")
}

func (p *testPlugin) OnConfigChanged(_ context.Context, cfg config.Snapshot) error {
	p.mu.Lock()
	p.lastCfg = cfg
	p.mu.Unlock()
	return p.record("config")
}

func (p *testPlugin) OnDisabled(context.Context) error { return p.record("disabled") }

func (p *testPlugin) OnContextDestroyed(_ context.Context, _ *renderer.Context) error {
	return p.record("teardown")
}

func (p *testPlugin) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *testPlugin) lastSnapshot() config.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCfg
}

// stubPage satisfies renderer.Page with inert behavior.
type stubPage struct {
	url    string
	events chan renderer.PageEvent
	once   sync.Once
}

func newStubPage(url string) *stubPage {
	return &stubPage{url: url, events: make(chan renderer.PageEvent, 8)}
}

func (s *stubPage) URL() string                          { return s.url }
func (s *stubPage) Title() string                        { return "" }
func (s *stubPage) QueryText(string) (string, bool)      { return "", false }
func (s *stubPage) QueryAttr(string, string) (string, bool) { return "", false }
func (s *stubPage) Exists(string) bool                   { return false }
func (s *stubPage) MediaState() (renderer.MediaState, bool) {
	return renderer.MediaState{}, false
}
func (s *stubPage) InsertCSS(string, string) error        { return nil }
func (s *stubPage) RemoveCSS(string) error                { return nil }
func (s *stubPage) Click(string) error                    { return nil }
func (s *stubPage) SetMuted(bool) error                   { return nil }
func (s *stubPage) Events() <-chan renderer.PageEvent     { return s.events }
func (s *stubPage) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func newTestHost(t *testing.T) (*Host, *config.Store) {
	t.Helper()
	store := config.NewStore(filepath.Join(t.TempDir(), "plugins.json"))
	h := NewHost(store)
	t.Cleanup(h.Close)
	return h, store
}

func newTestContext(t *testing.T) *renderer.Context {
	t.Helper()
	rc := renderer.NewContext(newStubPage("https://music.example.com/"))
	t.Cleanup(rc.Close)
	return rc
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestHostRegisterDuplicate(t *testing.T) {
	h, _ := newTestHost(t)

	if err := h.Register(newTestPlugin("alpha")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := h.Register(newTestPlugin("alpha"))
	if !errors.Is(err, ErrDuplicatePlugin) {
		t.Fatalf("second Register error = %v, want ErrDuplicatePlugin", err)
	}
	if got := h.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestHostRegisterInvalidMetadata(t *testing.T) {
	h, _ := newTestHost(t)

	bad := newTestPlugin("Not Valid")
	if err := h.Register(bad); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("Register error = %v, want ErrInvalidMetadata", err)
	}
	if h.Count() != 0 {
		t.Errorf("invalid plugin was registered")
	}
}

func TestHostStartDispatchesReady(t *testing.T) {
	h, _ := newTestHost(t)
	a := newTestPlugin("alpha")
	b := newTestPlugin("beta")
	for _, p := range []*testPlugin{a, b} {
		if err := h.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.meta.Name, err)
		}
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op.
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	// Start seeds the config hook before host-ready.
	for _, p := range []*testPlugin{a, b} {
		if got := p.callLog(); !equalCalls(got, []string{"config", "ready"}) {
			t.Errorf("%s calls = %v, want [config ready]", p.meta.Name, got)
		}
	}
}

func TestHostDisabledPluginReceivesNoHooks(t *testing.T) {
	h, _ := newTestHost(t)
	p := newTestPlugin("quiet")
	p.defaults = map[string]any{"enabled": false}
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rc := newTestContext(t)
	if err := h.ContextCreated(context.Background(), rc); err != nil {
		t.Fatalf("ContextCreated: %v", err)
	}
	if err := h.ContextLoaded(context.Background(), rc); err != nil {
		t.Fatalf("ContextLoaded: %v", err)
	}
	if err := h.ContextDestroyed(context.Background(), rc); err != nil {
		t.Fatalf("ContextDestroyed: %v", err)
	}

	if got := p.callLog(); len(got) != 0 {
		t.Errorf("disabled plugin received hooks: %v", got)
	}
}

func TestHostContextLifecycle(t *testing.T) {
	h, _ := newTestHost(t)
	p := newTestPlugin("alpha")
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rc := newTestContext(t)
	ctx := context.Background()
	if err := h.ContextCreated(ctx, rc); err != nil {
		t.Fatalf("ContextCreated: %v", err)
	}
	// Duplicate creation is ignored.
	if err := h.ContextCreated(ctx, rc); err != nil {
		t.Fatalf("duplicate ContextCreated: %v", err)
	}
	if err := h.ContextLoaded(ctx, rc); err != nil {
		t.Fatalf("ContextLoaded: %v", err)
	}
	if got := len(h.Contexts()); got != 1 {
		t.Fatalf("Contexts() length = %d, want 1", got)
	}
	if err := h.ContextDestroyed(ctx, rc); err != nil {
		t.Fatalf("ContextDestroyed: %v", err)
	}
	if got := len(h.Contexts()); got != 0 {
		t.Fatalf("Contexts() length after destroy = %d, want 0", got)
	}

	want := []string{"config", "ready", "context", "content", "teardown"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestHostHookErrorDoesNotBlockOthers(t *testing.T) {
	h, _ := newTestHost(t)
	a := newTestPlugin("alpha")
	a.failOn = "ready"
	b := newTestPlugin("beta")
	for _, p := range []*testPlugin{a, b} {
		if err := h.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.meta.Name, err)
		}
	}

	err := h.Start(context.Background())
	if err == nil {
		t.Fatal("Start returned nil, want aggregated error")
	}
	if !strings.Contains(err.Error(), "alpha") {
		t.Errorf("error %q does not name the failing plugin", err)
	}
	if got := b.callLog(); !equalCalls(got, []string{"config", "ready"}) {
		t.Errorf("beta calls = %v, want [config ready]", got)
	}
}

func TestHostHookPanicIsolated(t *testing.T) {
	h, _ := newTestHost(t)
	a := newTestPlugin("alpha")
	a.panicOn = "context"
	b := newTestPlugin("beta")
	for _, p := range []*testPlugin{a, b} {
		if err := h.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.meta.Name, err)
		}
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rc := newTestContext(t)
	err := h.ContextCreated(context.Background(), rc)
	if err == nil {
		t.Fatal("ContextCreated returned nil, want panic error")
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Errorf("error %q does not mention the panic", err)
	}
	if got := b.callLog(); !equalCalls(got, []string{"config", "ready", "context"}) {
		t.Errorf("beta calls = %v, want [config ready context]", got)
	}
}

func TestHostSetEnabledDisable(t *testing.T) {
	h, _ := newTestHost(t)
	p := newTestPlugin("alpha")
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.SetEnabled("alpha", false); err != nil {
		t.Fatalf("SetEnabled(false): %v", err)
	}
	// Repeating the same value persists but dispatches nothing.
	if err := h.SetEnabled("alpha", false); err != nil {
		t.Fatalf("second SetEnabled(false): %v", err)
	}

	want := []string{"config", "ready", "disabled"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestHostSetEnabledReplaysLifecycle(t *testing.T) {
	h, _ := newTestHost(t)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rc := newTestContext(t)
	if err := h.ContextCreated(context.Background(), rc); err != nil {
		t.Fatalf("ContextCreated: %v", err)
	}
	if err := h.ContextLoaded(context.Background(), rc); err != nil {
		t.Fatalf("ContextLoaded: %v", err)
	}

	p := newTestPlugin("late")
	p.defaults = map[string]any{"enabled": false}
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := p.callLog(); len(got) != 0 {
		t.Fatalf("disabled plugin received hooks at registration: %v", got)
	}

	if err := h.SetEnabled("late", true); err != nil {
		t.Fatalf("SetEnabled(true): %v", err)
	}

	want := []string{"config", "ready", "context", "content"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Errorf("replay calls = %v, want %v", got, want)
	}
}

func TestHostRegisterAfterStartReplays(t *testing.T) {
	h, _ := newTestHost(t)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rc := newTestContext(t)
	if err := h.ContextCreated(context.Background(), rc); err != nil {
		t.Fatalf("ContextCreated: %v", err)
	}

	p := newTestPlugin("late")
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Context was created but never loaded, so no content hook.
	want := []string{"config", "ready", "context"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Errorf("replay calls = %v, want %v", got, want)
	}
}

func TestHostBroadcastConfigChange(t *testing.T) {
	h, _ := newTestHost(t)
	p := newTestPlugin("alpha")
	p.defaults = map[string]any{"volume": float64(5), "color": "red"}
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.BroadcastConfigChange("alpha", map[string]any{"color": "blue"}); err != nil {
		t.Fatalf("BroadcastConfigChange: %v", err)
	}

	want := []string{"config", "ready", "config"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	snap := p.lastSnapshot()
	if got := snap.String("color", ""); got != "blue" {
		t.Errorf("snapshot color = %q, want %q", got, "blue")
	}
	// Defaults still visible through the merged snapshot.
	if got := snap.Int("volume", 0); got != 5 {
		t.Errorf("snapshot volume = %d, want 5", got)
	}
}

func TestHostUpdateSetting(t *testing.T) {
	h, _ := newTestHost(t)
	p := newTestPlugin("alpha")
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.UpdateSetting("alpha", "threshold", 10); err != nil {
		t.Fatalf("UpdateSetting: %v", err)
	}
	want := []string{"config", "ready", "config"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestHostConfigHookSkippedWhenDisabled(t *testing.T) {
	h, _ := newTestHost(t)
	p := newTestPlugin("quiet")
	p.defaults = map[string]any{"enabled": false}
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.UpdateSetting("quiet", "threshold", 10); err != nil {
		t.Fatalf("UpdateSetting: %v", err)
	}
	if got := p.callLog(); len(got) != 0 {
		t.Errorf("disabled plugin received config hook: %v", got)
	}
}

func TestHostSetEnabledUnknownPlugin(t *testing.T) {
	h, _ := newTestHost(t)
	if err := h.SetEnabled("ghost", true); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("SetEnabled error = %v, want ErrPluginNotFound", err)
	}
	if err := h.BroadcastConfigChange("ghost", nil); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("BroadcastConfigChange error = %v, want ErrPluginNotFound", err)
	}
	if _, err := h.PluginConfig("ghost"); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("PluginConfig error = %v, want ErrPluginNotFound", err)
	}
}

func TestHostPluginsInfo(t *testing.T) {
	h, _ := newTestHost(t)
	a := newTestPlugin("alpha")
	b := newTestPlugin("beta")
	b.defaults = map[string]any{"enabled": false}
	for _, p := range []*testPlugin{a, b} {
		if err := h.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.meta.Name, err)
		}
	}

	infos := h.Plugins()
	if len(infos) != 2 {
		t.Fatalf("Plugins() length = %d, want 2", len(infos))
	}
	if infos[0].Name != "alpha" || !infos[0].Enabled {
		t.Errorf("infos[0] = %+v, want enabled alpha", infos[0])
	}
	if infos[1].Name != "beta" || infos[1].Enabled {
		t.Errorf("infos[1] = %+v, want disabled beta", infos[1])
	}
}

func TestHostExternalReloadDispatch(t *testing.T) {
	h, store := newTestHost(t)
	p := newTestPlugin("alpha")
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A settings-only replace reaches the config hook once.
	if err := store.Replace("alpha", map[string]any{"mode": "dark"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	want := []string{"config", "ready", "config"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Fatalf("calls after replace = %v, want %v", got, want)
	}

	// An enablement flip through the store behaves like SetEnabled.
	if err := store.SetEnabled("alpha", false); err != nil {
		t.Fatalf("store.SetEnabled: %v", err)
	}
	want = []string{"config", "ready", "config", "disabled"}
	if got := p.callLog(); !equalCalls(got, want) {
		t.Errorf("calls after disable = %v, want %v", got, want)
	}
}

func TestHostStartSeedsPersistedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.json")
	doc := `{"plugins": {"alpha": {"settings": {"color": "green"}}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	store := config.NewStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := NewHost(store)
	t.Cleanup(h.Close)

	p := newTestPlugin("alpha")
	p.defaults = map[string]any{"color": "red", "size": float64(3)}
	if err := h.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := p.callLog(); !equalCalls(got, []string{"config", "ready"}) {
		t.Fatalf("calls = %v, want [config ready]", got)
	}
	snap := p.lastSnapshot()
	if got := snap.String("color", ""); got != "green" {
		t.Errorf("seeded color = %q, want %q", got, "green")
	}
	if got := snap.Int("size", 0); got != 3 {
		t.Errorf("seeded size = %d, want 3", got)
	}
}
