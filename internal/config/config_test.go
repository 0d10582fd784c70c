// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir, "test")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, "127.0.0.1", c.Config.Host)
	assert.Equal(t, 7474, c.Config.Port)
	assert.Equal(t, "INFO", c.Config.LogLevel)
	assert.Equal(t, 300, c.Config.Scan.IntervalSeconds)
	assert.Equal(t, 2, c.Config.Watchdog.SeasonThreshold)
	assert.Equal(t, 3, c.Config.Watchdog.MaxArrAttempts)
}

func TestNewReadsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := `
host = "0.0.0.0"
port = 9090
logLevel = "DEBUG"

[scan]
roots = ["/media/tv"]
mountChecks = ["/mnt/remote/version.txt"]

[relay]
baseUrl = "http://relay:8000"
token = "secret"

[[relay.routes]]
prefix = "/media/tv"
type = "sonarr_tv"

[[relay.routes]]
prefix = "/media/tv/anime"
type = "sonarr_anime"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0644))

	c, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", c.Config.Host)
	assert.Equal(t, 9090, c.Config.Port)
	assert.Equal(t, "DEBUG", c.Config.LogLevel)
	assert.Equal(t, []string{"/media/tv"}, c.Config.Scan.Roots)
	assert.True(t, c.Config.Relay.Configured())

	// longest matching prefix wins
	route, ok := c.Config.Relay.RouteFor("/media/tv/anime/Show/S01/ep.mkv")
	require.True(t, ok)
	assert.Equal(t, "sonarr_anime", route.Type)

	route, ok = c.Config.Relay.RouteFor("/media/tv/Show/S01/ep.mkv")
	require.True(t, ok)
	assert.Equal(t, "sonarr_tv", route.Type)
}

func TestNewEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RELINKARR__PORT", "8181")
	t.Setenv("RELINKARR__LOGLEVEL", "TRACE")

	c, err := New(dir, "test")
	require.NoError(t, err)

	assert.Equal(t, 8181, c.Config.Port)
	assert.Equal(t, "TRACE", c.Config.LogLevel)
}

func TestNewConfigFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`port = 7000`), 0644))

	c, err := New(path, "test")
	require.NoError(t, err)
	assert.Equal(t, 7000, c.Config.Port)
}

func TestDatabasePath(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "relinkarr.db"), c.DatabasePath())

	c.Config.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "relinkarr.db"), c.DatabasePath())

	c.Config.DatabasePath = "/custom/app.db"
	assert.Equal(t, "/custom/app.db", c.DatabasePath())
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`port = -5`), 0644))

	_, err := New(dir, "test")
	require.Error(t, err)
}
