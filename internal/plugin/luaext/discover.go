package luaext

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Discover loads every Lua plugin under dir. Each immediate
// subdirectory holding a manifest.json is a candidate; directories
// without one are skipped silently, candidates that fail to load are
// logged and skipped. A missing dir yields no plugins and no error.
// The options are applied to each loaded script.
func Discover(dir string, log *slog.Logger, opts ...Option) ([]*Script, error) {
	if log == nil {
		log = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var scripts []*Script
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(pluginDir, "manifest.json")); err != nil {
			continue
		}

		script, err := Load(pluginDir, opts...)
		if err != nil {
			log.Warn("skipping lua plugin", "dir", pluginDir, "error", err)
			continue
		}
		scripts = append(scripts, script)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].manifest.Name < scripts[j].manifest.Name
	})
	return scripts, nil
}
