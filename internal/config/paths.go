package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard directories used by the event client.
type Paths struct {
	Config string // ~/.config/opencode
	State  string // ~/.local/state/opencode
}

// GetPaths returns the standard paths, honoring the XDG variables.
func GetPaths() *Paths {
	return &Paths{
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "opencode"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "opencode"),
	}
}

// LogDir returns the directory for log files.
func (p *Paths) LogDir() string {
	return filepath.Join(p.State, "log")
}

// DefaultConfigFiles returns the config files Load looks for when no path is given,
// in priority order.
func DefaultConfigFiles() []string {
	dir := GetPaths().Config
	return []string{
		filepath.Join(dir, "events.jsonc"),
		filepath.Join(dir, "events.json"),
		filepath.Join(dir, "events.yaml"),
		filepath.Join(dir, "events.yml"),
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
