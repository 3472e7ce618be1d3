// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package paths resolves per-user jobwatch directories.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDir = "jobwatch"

// ConfigDir returns the config directory for jobwatch.
// Order: XDG_CONFIG_HOME/jobwatch, platform-specific fallback.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "Jobwatch")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appDir)
}

// CacheDir returns the cache directory for jobwatch. Tool lock files live here.
// Order: XDG_CACHE_HOME/jobwatch, platform-specific fallback.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LocalAppData"); localAppData != "" {
			return filepath.Join(localAppData, "Jobwatch", "Cache")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), appDir)
	}
	return filepath.Join(home, ".cache", appDir)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
