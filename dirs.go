package main

import (
	"os"
	"path/filepath"
)

const appDirName = "poiview"

// xdgConfigDir returns $XDG_CONFIG_HOME or falls back to $HOME/.config.
func xdgConfigDir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return d
	}
	home := os.Getenv("HOME")
	if home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".config")
	}
	return filepath.Join(home, ".config")
}

// xdgCacheDir returns $XDG_CACHE_HOME or falls back to $HOME/.cache.
func xdgCacheDir() string {
	if d := os.Getenv("XDG_CACHE_HOME"); d != "" {
		return d
	}
	home := os.Getenv("HOME")
	if home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".cache")
	}
	return filepath.Join(home, ".cache")
}

// appConfigDir is where config.toml lives.
func appConfigDir() string {
	return filepath.Join(xdgConfigDir(), appDirName)
}

// appCacheDir holds the geocode cache and the tile cache.
func appCacheDir() string {
	return filepath.Join(xdgCacheDir(), appDirName)
}

// ensureDir creates the directory and any necessary parents.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
