// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config resolves the on-disk locations Spindle uses: the data
// directory holding the config file and logs, and the root under which
// per-item worktrees live. Resolution reads os.Getenv directly rather than
// viper, since these paths are needed to find the config file in the first
// place.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetSpindleDataDir returns the data directory: SPINDLE_DATA_DIR when set,
// else ~/.spindle. The result is absolute; ~ and relative values in the
// environment variable are expanded.
func GetSpindleDataDir() string {
	if dir := os.Getenv("SPINDLE_DATA_DIR"); dir != "" {
		return expandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory; fall back to a relative default.
		return ".spindle"
	}
	return filepath.Join(home, ".spindle")
}

// GetWorktreesDir returns the root for per-item worktrees:
// SPINDLE_WORKTREES_DIR when set, else <data dir>/worktrees. Keeping it
// overridable separately lets worktrees live on a different volume than
// the data directory.
func GetWorktreesDir() string {
	if dir := os.Getenv("SPINDLE_WORKTREES_DIR"); dir != "" {
		return expandPath(dir)
	}
	return GetSpindleSubDir("worktrees")
}

// GetSpindleSubDir returns a subdirectory of the data directory.
func GetSpindleSubDir(subdir string) string {
	return filepath.Join(GetSpindleDataDir(), subdir)
}

// expandPath turns ~/x and relative paths into absolute ones. On failure
// the input is returned unchanged rather than guessed at.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
