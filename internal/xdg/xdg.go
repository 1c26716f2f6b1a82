// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for lockbox.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName        = "lockbox"
	configFileName = "config.yaml"
)

// ConfigDir returns the XDG config directory for lockbox.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of config.yaml under ConfigDir.
func DefaultConfigFile() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// FindConfigFile returns DefaultConfigFile when it exists and "" when it
// does not. Any other stat failure is returned.
func FindConfigFile() (string, error) {
	path := DefaultConfigFile()
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("CONFIG_LOAD_FAILED").In("config").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("CONFIG_LOAD_FAILED").In("config").With("path", path).Errorf("config path is a directory")
	}
	return path, nil
}
