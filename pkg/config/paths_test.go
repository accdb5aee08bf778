// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSpindleDataDir_Default(t *testing.T) {
	t.Setenv("SPINDLE_DATA_DIR", "")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".spindle"), GetSpindleDataDir())
}

func TestGetSpindleDataDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPINDLE_DATA_DIR", dir)

	assert.Equal(t, dir, GetSpindleDataDir())
}

func TestGetSpindleDataDir_TildeExpansion(t *testing.T) {
	t.Setenv("SPINDLE_DATA_DIR", "~/spindle-data")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "spindle-data"), GetSpindleDataDir())
}

func TestGetSpindleDataDir_RelativePath(t *testing.T) {
	t.Setenv("SPINDLE_DATA_DIR", "relative/spindle")

	got := GetSpindleDataDir()
	assert.True(t, filepath.IsAbs(got), "relative SPINDLE_DATA_DIR must resolve to an absolute path, got %q", got)
}

func TestGetWorktreesDir_Default(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPINDLE_DATA_DIR", dir)
	t.Setenv("SPINDLE_WORKTREES_DIR", "")

	assert.Equal(t, filepath.Join(dir, "worktrees"), GetWorktreesDir())
}

func TestGetWorktreesDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPINDLE_WORKTREES_DIR", dir)

	assert.Equal(t, dir, GetWorktreesDir())
}

func TestGetSpindleSubDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPINDLE_DATA_DIR", dir)

	assert.Equal(t, filepath.Join(dir, "logs"), GetSpindleSubDir("logs"))
}
