package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"keeper/internal/common"
	"keeper/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Clear the variables for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{config.EnvToken, config.EnvPrefix, config.EnvLogLevel, config.EnvDataDir} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := write(t, dir, "config.toml", `
token = "file-token"
prefix = "!k"
owners = ["1", " ", "2"]
data_dir = "/var/lib/keeper"
log_level = "debug"
flush_interval = "1m"

[[restriction]]
requests = 20
duration = "1s"

[[entity]]
type = "mod-database"
refreshMs = 60000
endpoint = "https://example.com/npDatabase.json"
`)

	cfg, err := config.Load(path, filepath.Join(dir, ".env"))
	require.NoError(t, err)
	require.Equal(t, "file-token", cfg.Token)
	require.Equal(t, "!k", cfg.Prefix)
	require.Equal(t, []string{"1", "2"}, cfg.Owners)
	require.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	require.Equal(t, time.Minute, cfg.FlushInterval)
	require.Equal(t, config.Default().HTTPTimeout, cfg.HTTPTimeout)
	require.Equal(t, []common.Restriction{{Requests: 20, Duration: time.Second}}, cfg.Restrictions)
	require.Equal(t, "/var/lib/keeper/entities.json", cfg.EntitiesFile())

	require.Len(t, cfg.Seeds, 1)
	var seed map[string]any
	require.NoError(t, json.Unmarshal(cfg.Seeds[0], &seed))
	require.Equal(t, "mod-database", seed["type"])
	require.EqualValues(t, 60000, seed["refreshMs"])
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := write(t, dir, "config.toml", `token = "file-token"`+"\n"+`prefix = "!k"`)
	envFile := write(t, dir, ".env", "DISCORD_TOKEN=dotenv-token\nKEEPER_LOG_LEVEL=warn\n")
	t.Setenv(config.EnvPrefix, "?")

	cfg, err := config.Load(path, envFile)
	require.NoError(t, err)
	require.Equal(t, "dotenv-token", cfg.Token)
	require.Equal(t, "?", cfg.Prefix)
	require.Equal(t, zerolog.WarnLevel, cfg.LogLevel)
	require.Equal(t, "data", cfg.DataDir)
}

func TestLoadWithoutFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	_, err := config.Load(filepath.Join(dir, "config.toml"), filepath.Join(dir, ".env"))
	require.ErrorContains(t, err, "no discord token")

	t.Setenv(config.EnvToken, "env-token")
	cfg, err := config.Load(filepath.Join(dir, "config.toml"), filepath.Join(dir, ".env"))
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Token)
	require.Equal(t, ".cc", cfg.Prefix)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	for name, content := range map[string]string{
		"duration":    `flush_interval = "soon"`,
		"level":       `log_level = "loud"`,
		"restriction": "[[restriction]]\nrequests = 0\nduration = \"1s\"",
		"entity":      "[[entity]]\nrefreshMs = 1",
	} {
		path := write(t, dir, name+".toml", "token = \"x\"\n"+content)
		_, err := config.Load(path, filepath.Join(dir, ".env"))
		require.Error(t, err, name)
	}
}
