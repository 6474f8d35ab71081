package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("FENRIR_ADDRESS", "127.0.0.1")
	t.Setenv("FENRIR_PORT", "9100")
	t.Setenv("FENRIR_WORKERS", "3")
	t.Setenv("FENRIR_CONN_TIMEOUT_MS", "250")
	t.Setenv("FENRIR_LOG_LEVEL", "debug")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "127.0.0.1", cfg.Address)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, uint(3), cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnTimeout)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestLoadFromEnv_MalformedKeepsDefault(t *testing.T) {
	t.Setenv("FENRIR_PORT", "not-a-port")
	t.Setenv("FENRIR_WORKERS", "-1")
	t.Setenv("FENRIR_LOG_LEVEL", "loud")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, Default().Port, cfg.Port)
	assert.Equal(t, Default().Workers, cfg.Workers)
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)
}

func TestLoadFromEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FENRIR_PORT=9200\n"), 0o600))
	// godotenv does not override variables already present, so make sure
	// the file is the only source and clean up after it.
	t.Setenv("FENRIR_PORT", "")
	require.NoError(t, os.Unsetenv("FENRIR_PORT"))

	cfg := LoadFromEnv(path)

	assert.Equal(t, 9200, cfg.Port)
}
