package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// ChangeKind identifies what part of a plugin's configuration changed.
type ChangeKind int

const (
	// ChangeSetting indicates a single setting value was written.
	ChangeSetting ChangeKind = iota

	// ChangeEnabled indicates the enabled flag was written.
	ChangeEnabled

	// ChangeReload indicates the plugin's persisted section was replaced
	// wholesale, typically by an external edit of the store file.
	ChangeReload
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeSetting:
		return "setting"
	case ChangeEnabled:
		return "enabled"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Change describes one configuration change event.
type Change struct {
	// Plugin is the plugin whose configuration changed.
	Plugin string

	// Kind is the kind of change.
	Kind ChangeKind

	// Key is the setting key for ChangeSetting events, empty otherwise.
	Key string

	// Old and New carry the previous and current values where known.
	Old any
	New any
}

// Snapshot is a merged, read-only view of one plugin's configuration:
// author defaults overlaid with persisted overrides. Snapshots are deep
// copies; mutating one never affects the store.
type Snapshot struct {
	// Plugin is the owning plugin name.
	Plugin string

	// Enabled is the resolved enablement flag.
	Enabled bool

	// Settings maps setting keys to values. Never nil.
	Settings map[string]any
}

// String returns a string setting, or def when absent or mistyped.
func (s Snapshot) String(key, def string) string {
	if v, ok := s.Settings[key].(string); ok {
		return v
	}
	return def
}

// Int returns an integer setting, or def when absent or mistyped.
// JSON numbers decode as float64 and are accepted.
func (s Snapshot) Int(key string, def int) int {
	switch v := s.Settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns a boolean setting, or def when absent or mistyped.
func (s Snapshot) Bool(key string, def bool) bool {
	if v, ok := s.Settings[key].(bool); ok {
		return v
	}
	return def
}

// Float64 returns a numeric setting, or def when absent or mistyped.
func (s Snapshot) Float64(key string, def float64) float64 {
	switch v := s.Settings[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Strings returns a string-list setting. Both []string and []any of
// strings are accepted; anything else yields def.
func (s Snapshot) Strings(key string, def []string) []string {
	switch v := s.Settings[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, str)
		}
		return out
	default:
		return def
	}
}

// Store owns the persisted plugin configuration document.
//
// The document is plain JSON of the shape
//
//	{"plugins": {"<name>": {"enabled": bool, "settings": {...}}}}
//
// and is the single source of truth for persistence; merged views are
// computed against registered defaults on every read so a plugin always
// sees (defaults ∘ overrides).
//
// Store is safe for concurrent use. Change observers are invoked outside
// the store lock.
type Store struct {
	mu sync.RWMutex

	// path is the persisted document location.
	path string

	// doc is the raw JSON document.
	doc string

	// defaults maps plugin name to registered default settings.
	defaults map[string]map[string]any

	// enabledDefault maps plugin name to its default enablement.
	enabledDefault map[string]bool

	subs   map[int]func(Change)
	nextID int

	log *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for persistence diagnostics.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore creates a Store persisting to path. The document starts empty;
// call Load to read a previously persisted file.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:           path,
		doc:            "{}",
		defaults:       make(map[string]map[string]any),
		enabledDefault: make(map[string]bool),
		subs:           make(map[int]func(Change)),
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterDefaults records a plugin's author defaults. A reserved
// "enabled" key inside defaults overrides the default-true enablement;
// the remaining keys become the plugin's default settings. Registering
// the same plugin again replaces its defaults.
func (s *Store) RegisterDefaults(name string, defaults map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := true
	settings := make(map[string]any, len(defaults))
	for k, v := range defaults {
		if k == "enabled" {
			if b, ok := v.(bool); ok {
				enabled = b
			}
			continue
		}
		settings[k] = cloneValue(v)
	}
	s.defaults[name] = settings
	s.enabledDefault[name] = enabled
}

// Registered reports whether defaults exist for the plugin.
func (s *Store) Registered(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.defaults[name]
	return ok
}

// Plugin returns the merged snapshot for a plugin. Unregistered names
// yield a snapshot of persisted values only, enabled defaulting to true.
func (s *Store) Plugin(name string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(name)
}

func (s *Store) snapshotLocked(name string) Snapshot {
	snap := Snapshot{
		Plugin:   name,
		Enabled:  true,
		Settings: make(map[string]any),
	}
	for k, v := range s.defaults[name] {
		snap.Settings[k] = cloneValue(v)
	}
	if d, ok := s.enabledDefault[name]; ok {
		snap.Enabled = d
	}

	if enabled := gjson.Get(s.doc, pluginPath(name)+".enabled"); enabled.Exists() {
		snap.Enabled = enabled.Bool()
	}
	persisted := gjson.Get(s.doc, pluginPath(name)+".settings")
	if persisted.IsObject() {
		persisted.ForEach(func(key, value gjson.Result) bool {
			snap.Settings[key.String()] = value.Value()
			return true
		})
	}
	return snap
}

// Enabled returns the resolved enablement flag for a plugin.
func (s *Store) Enabled(name string) bool {
	return s.Plugin(name).Enabled
}

// SetEnabled persists the enabled flag and notifies observers.
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	if _, ok := s.defaults[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("set enabled %q: %w", name, ErrUnknownPlugin)
	}
	old := s.snapshotLocked(name).Enabled

	doc, err := sjson.Set(s.doc, pluginPath(name)+".enabled", enabled)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set enabled %q: %w", name, err)
	}
	s.doc = doc
	err = s.saveLocked()
	subs := s.observersLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	notify(subs, Change{Plugin: name, Kind: ChangeEnabled, Old: old, New: enabled})
	return nil
}

// SetSetting persists one setting value and notifies observers. Keys
// must be non-empty and must not contain a path separator.
func (s *Store) SetSetting(name, key string, value any) error {
	if key == "" || strings.Contains(key, ".") {
		return fmt.Errorf("set %q.%q: %w", name, key, ErrInvalidKey)
	}

	s.mu.Lock()
	if _, ok := s.defaults[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("set %q.%q: %w", name, key, ErrUnknownPlugin)
	}
	old := s.snapshotLocked(name).Settings[key]

	doc, err := sjson.Set(s.doc, settingPath(name, key), value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set %q.%q: %w", name, key, err)
	}
	s.doc = doc
	err = s.saveLocked()
	subs := s.observersLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	notify(subs, Change{Plugin: name, Kind: ChangeSetting, Key: key, Old: old, New: value})
	return nil
}

// Replace persists a whole settings object for a plugin, dropping any
// previously persisted settings, and notifies observers with a single
// reload change.
func (s *Store) Replace(name string, settings map[string]any) error {
	s.mu.Lock()
	if _, ok := s.defaults[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("replace %q: %w", name, ErrUnknownPlugin)
	}

	doc, err := sjson.Set(s.doc, pluginPath(name)+".settings", settings)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("replace %q: %w", name, err)
	}
	s.doc = doc
	err = s.saveLocked()
	subs := s.observersLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	notify(subs, Change{Plugin: name, Kind: ChangeReload})
	return nil
}

// Subscribe registers a change observer and returns an unsubscribe
// function. Observers run on the mutating goroutine and should return
// quickly.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Load reads the persisted document. A missing file leaves the store
// empty and is not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load plugin store: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("load plugin store %s: %w", s.path, ErrCorruptStore)
	}

	s.mu.Lock()
	s.doc = string(data)
	s.mu.Unlock()
	return nil
}

// Save persists the current document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the document atomically: a temp file in the target
// directory followed by a rename.
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save plugin store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".plugins-*.json")
	if err != nil {
		return fmt.Errorf("save plugin store: %w", err)
	}
	tmpName := tmp.Name()

	data := pretty.Pretty([]byte(s.doc))
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save plugin store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save plugin store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save plugin store: %w", err)
	}
	return nil
}

// observersLocked returns a copy of the observer list.
func (s *Store) observersLocked() []func(Change) {
	out := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}

// pluginPath returns the document path of a plugin's section. Plugin
// names are validated upstream and never contain path separators.
func pluginPath(name string) string {
	return "plugins." + name
}

func settingPath(name, key string) string {
	return "plugins." + name + ".settings." + key
}

// cloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return val
	}
}
