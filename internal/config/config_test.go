package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"RACKPATCH_API_BASE_URL", "RACKPATCH_CLIENT_TIMEOUT", "RACKPATCH_WRITE_TIMEOUT",
	"RACKPATCH_RUNS_LIMIT", "RACKPATCH_TEMPLATES_FILE", "RACKPATCH_TOPOLOGY_FILE",
	"RACKPATCH_SIDESTORE", "RACKPATCH_BADGER_PATH", "RACKPATCH_LOG_FILE",
	"RACKPATCH_LOG_LEVEL", "RACKPATCH_SERVER_PORT", "SURREALDB_AUTH_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, "http://localhost:3000", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.ClientTimeout)
	assert.Equal(t, 15*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 20000, cfg.RunsLimit)
	assert.Equal(t, SideStoreMemory, cfg.SideStore)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 8585, cfg.ServerPort)
	assert.Equal(t, "root", cfg.SurrealDB().AuthLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RACKPATCH_API_BASE_URL", "https://patch.example.com/")
	t.Setenv("RACKPATCH_WRITE_TIMEOUT", "2s")
	t.Setenv("RACKPATCH_RUNS_LIMIT", "500")
	t.Setenv("RACKPATCH_SIDESTORE", "Badger")
	t.Setenv("RACKPATCH_BADGER_PATH", "/var/lib/rackpatch")
	t.Setenv("RACKPATCH_LOG_LEVEL", "debug")
	t.Setenv("RACKPATCH_SERVER_PORT", "9000")

	cfg := Load()
	assert.Equal(t, "https://patch.example.com", cfg.APIBaseURL)
	assert.Equal(t, 2*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 500, cfg.RunsLimit)
	assert.Equal(t, SideStoreBadger, cfg.SideStore)
	assert.Equal(t, "/var/lib/rackpatch", cfg.BadgerPath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 9000, cfg.ServerPort)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("RACKPATCH_WRITE_TIMEOUT", "soon")
	t.Setenv("RACKPATCH_RUNS_LIMIT", "many")

	cfg := Load()
	assert.Equal(t, 15*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 20000, cfg.RunsLimit)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown side store", func(c *Config) { c.SideStore = "redis" }},
		{"badger without path", func(c *Config) { c.SideStore = SideStoreBadger; c.BadgerPath = "" }},
		{"bad url", func(c *Config) { c.APIBaseURL = "not a url" }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"bad auth level", func(c *Config) { c.SurrealDBAuthLevel = "namespace" }},
		{"port out of range", func(c *Config) { c.ServerPort = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("write applied", "su", "12", "rack", "LAC-SU12")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "write applied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &entry))
	assert.Equal(t, "write applied", entry["msg"])
	assert.Equal(t, "LAC-SU12", entry["rack"])
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rackpatch.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("bootstrap complete", "rows", 3)
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"bootstrap complete"`)

	logger, cleanup = SetupLogger("", slog.LevelInfo)
	assert.NotNil(t, logger)
	assert.NoError(t, cleanup())
}

func TestSetupLogger_CreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "rackpatch.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("write applied")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"write applied"`)
}

func TestSetupLogger_UnwritablePathFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	logger, cleanup := SetupLogger(filepath.Join(blocker, "rackpatch.log"), slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
	assert.NoFileExists(t, filepath.Join(blocker, "rackpatch.log"))
}
