// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfigDirRespectsXDGConfigHome(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("APPDATA", "")

	dir := GetDefaultConfigDir()

	expected := filepath.Join(tmpDir, "pslicense")
	assert.Equal(t, filepath.Clean(expected), filepath.Clean(dir))
}

func TestGetDefaultConfigDirDockerPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/config")
	t.Setenv("APPDATA", "")

	dir := GetDefaultConfigDir()

	assert.Equal(t, "/config", dir)
}

func TestGetDefaultConfigDirFallsBackToOsDefault(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")

	var expected string
	if runtime.GOOS == "windows" {
		t.Setenv("APPDATA", tmpDir)
		expected = filepath.Join(tmpDir, "pslicense")
	} else {
		t.Setenv("APPDATA", "")
		t.Setenv("HOME", tmpDir)
		expected = filepath.Join(tmpDir, ".config", "pslicense")
	}

	dir := GetDefaultConfigDir()

	assert.Equal(t, filepath.Clean(expected), filepath.Clean(dir))
}

func TestNewGeneratesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(tmpDir, "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Config.Host)
	assert.Equal(t, 8090, cfg.Config.Port)
	assert.Equal(t, "INFO", cfg.Config.LogLevel)
	assert.Equal(t, "http://localhost:8090", cfg.Config.ServerURL)
}

func TestNewReadsExistingConfig(t *testing.T) {
	tmpDir := t.TempDir()

	content := "host = \"127.0.0.1\"\nport = 9999\nlogLevel = \"DEBUG\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0o644))

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Config.Host)
	assert.Equal(t, 9999, cfg.Config.Port)
	assert.Equal(t, "DEBUG", cfg.Config.LogLevel)
	// Unset keys keep their defaults
	assert.Equal(t, 50, cfg.Config.LogMaxSize)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("PSLICENSE__PORT", "7777")

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Config.Port)
}

func TestResolveLogPath(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(tmpDir)
	require.NoError(t, err)
	cfg.Config.DataDir = tmpDir

	assert.Equal(t, "", cfg.ResolveLogPath(""))
	assert.Equal(t, "/var/log/pslicense.log", cfg.ResolveLogPath("/var/log/pslicense.log"))
	assert.Equal(t, filepath.Join(tmpDir, "log", "pslicense.log"), cfg.ResolveLogPath(filepath.Join("log", "pslicense.log")))
}
