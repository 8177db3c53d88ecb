// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

// Package xdg resolves XDG base directory paths for keystone.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "keystone"

// ConfigDir is $XDG_CONFIG_HOME/keystone, or ~/.config/keystone when unset.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile is the default config file path inside ConfigDir.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
