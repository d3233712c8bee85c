package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
)

// DefaultWatchDebounce coalesces the event bursts editors emit on save.
const DefaultWatchDebounce = 100 * time.Millisecond

// Watch follows the persisted document for external edits until ctx is
// done, reloading on change and emitting one ChangeReload per plugin
// whose section differs. The settings UI writes the same file, so this
// is how its edits reach running plugins.
//
// The parent directory is watched rather than the file itself so
// atomic rename-over saves keep the subscription alive.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("plugin store watch error", "error", err)
		case <-timer.C:
			s.reload()
		}
	}
}

// reload re-reads the document and notifies a reload for every
// registered plugin whose persisted section changed.
func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn("plugin store reload failed", "path", s.path, "error", err)
		return
	}
	if !gjson.ValidBytes(data) {
		s.log.Warn("plugin store reload skipped", "path", s.path, "error", ErrCorruptStore)
		return
	}

	s.mu.Lock()
	oldDoc := s.doc
	s.doc = string(data)

	var changed []string
	for name := range s.defaults {
		before := gjson.Get(oldDoc, pluginPath(name)).Raw
		after := gjson.Get(s.doc, pluginPath(name)).Raw
		if before != after {
			changed = append(changed, name)
		}
	}
	subs := s.observersLocked()
	s.mu.Unlock()

	for _, name := range changed {
		s.log.Debug("plugin config reloaded from disk", "plugin", name)
		notify(subs, Change{Plugin: name, Kind: ChangeReload})
	}
}
