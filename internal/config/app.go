package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// App is the operator-facing application configuration, loaded from a
// TOML file once at startup. Plugin settings live in the Store, not here.
type App struct {
	// PlayerURL is the web player page the shell hosts.
	PlayerURL string `toml:"player_url"`

	// PluginDir is scanned for scripted plugins (manifest.json + init.lua).
	PluginDir string `toml:"plugin_dir"`

	// StatePath is the persisted plugin store document.
	StatePath string `toml:"state_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// Headless launches the embedded browser without a visible window.
	Headless bool `toml:"headless"`
}

// DefaultApp returns the built-in defaults, rooted under the user
// config directory when one is available.
func DefaultApp() App {
	base := "."
	if dir, err := os.UserConfigDir(); err == nil {
		base = filepath.Join(dir, "sideband")
	}
	return App{
		PlayerURL: "https://music.youtube.com",
		PluginDir: filepath.Join(base, "plugins"),
		StatePath: filepath.Join(base, "plugins.json"),
		LogLevel:  "info",
	}
}

// LoadApp loads the app configuration: defaults, then the TOML file at
// path when present, then SIDEBAND_* environment overrides. An empty
// path skips the file layer.
func LoadApp(path string) (App, error) {
	app := DefaultApp()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return app, fmt.Errorf("load app config: %w", err)
		default:
			if err := toml.Unmarshal(data, &app); err != nil {
				return app, fmt.Errorf("parse app config %s: %w", path, err)
			}
		}
	}

	applyEnv(&app)

	if _, err := parseLevel(app.LogLevel); err != nil {
		return app, fmt.Errorf("app config: %w", err)
	}
	return app, nil
}

// applyEnv overlays SIDEBAND_* environment variables.
func applyEnv(app *App) {
	if v := os.Getenv("SIDEBAND_PLAYER_URL"); v != "" {
		app.PlayerURL = v
	}
	if v := os.Getenv("SIDEBAND_PLUGIN_DIR"); v != "" {
		app.PluginDir = v
	}
	if v := os.Getenv("SIDEBAND_STATE_PATH"); v != "" {
		app.StatePath = v
	}
	if v := os.Getenv("SIDEBAND_LOG_LEVEL"); v != "" {
		app.LogLevel = v
	}
	if v := os.Getenv("SIDEBAND_HEADLESS"); v != "" {
		app.Headless = v == "1" || strings.EqualFold(v, "true")
	}
}

// SlogLevel maps the configured log level to slog. Unknown levels fall
// back to info.
func (a App) SlogLevel() slog.Level {
	level, err := parseLevel(a.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
