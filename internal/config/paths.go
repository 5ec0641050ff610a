package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Application directory name used across all platforms.
const appName = "tandem-go"

// Config file name.
const configFileName = "config.toml"

// xdgDir resolves one XDG base directory: the env override when set,
// otherwise home joined with the XDG default fallback segments.
func xdgDir(envVar string, fallback ...string) string {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	parts := append([]string{home}, fallback...)
	parts = append(parts, appName)

	return filepath.Join(parts...)
}

// darwinAppDir is the single directory macOS convention uses for both
// config and data.
func darwinAppDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, "Library", "Application Support", appName)
}

// DefaultConfigDir returns the platform-specific directory for config files.
// Linux and other Unixes respect XDG_CONFIG_HOME (defaulting to
// ~/.config/tandem-go); macOS uses ~/Library/Application Support/tandem-go
// per Apple guidelines.
func DefaultConfigDir() string {
	if runtime.GOOS == "darwin" {
		return darwinAppDir()
	}

	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific directory for application
// data (action log database, token file, pidfile, pause state). Linux and
// other Unixes respect XDG_DATA_HOME (defaulting to
// ~/.local/share/tandem-go); macOS collapses config and data into
// ~/Library/Application Support/tandem-go.
func DefaultDataDir() string {
	if runtime.GOOS == "darwin" {
		return darwinAppDir()
	}

	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither TANDEM_GO_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
