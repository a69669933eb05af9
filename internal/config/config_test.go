package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every DOCANALYST_ env var that Load() reads.
var allConfigKeys = []string{
	"DOCANALYST_LISTEN_ADDR",
	"DOCANALYST_VAULT_BACKEND",
	"DOCANALYST_DB_PATH",
	"DOCANALYST_VAULT_FILE",
	"DOCANALYST_VAULT_SALT",
	"DOCANALYST_KDF_ITERATIONS",
	"DOCANALYST_POLL_INTERVAL",
	"DOCANALYST_JOB_TIMEOUT",
	"DOCANALYST_OPENAI_BASE_URL",
	"DOCANALYST_DOWNLOAD_DIR",
	"DOCANALYST_LOG_LEVEL",
}

// isolateConfigEnv saves and unsets all DOCANALYST_ env vars so tests don't
// inherit values from the host environment. t.Cleanup restores them.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, BackendSQLite, cfg.VaultBackend)
	assert.Equal(t, "docanalyst.db", cfg.DBPath)
	assert.Equal(t, ".docanalyst_vault.json", cfg.VaultFile)
	assert.Equal(t, []byte("financial-auto-analysis-salt"), cfg.Salt)
	assert.Equal(t, 390000, cfg.KDFIterations)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, wd, cfg.DownloadDir)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("DOCANALYST_LISTEN_ADDR", "127.0.0.1:9090")
	t.Setenv("DOCANALYST_VAULT_BACKEND", "FILE")
	t.Setenv("DOCANALYST_VAULT_FILE", "/tmp/vault.json")
	t.Setenv("DOCANALYST_VAULT_SALT", "pepper")
	t.Setenv("DOCANALYST_KDF_ITERATIONS", "5000")
	t.Setenv("DOCANALYST_POLL_INTERVAL", "250ms")
	t.Setenv("DOCANALYST_JOB_TIMEOUT", "2m")
	t.Setenv("DOCANALYST_OPENAI_BASE_URL", "http://localhost:4010/v1/")
	t.Setenv("DOCANALYST_DOWNLOAD_DIR", "/tmp/reports")
	t.Setenv("DOCANALYST_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, BackendFile, cfg.VaultBackend)
	assert.Equal(t, "/tmp/vault.json", cfg.VaultFile)
	assert.Equal(t, []byte("pepper"), cfg.Salt)
	assert.Equal(t, 5000, cfg.KDFIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
	assert.Equal(t, "http://localhost:4010/v1", cfg.OpenAIBaseURL)
	assert.Equal(t, "/tmp/reports", cfg.DownloadDir)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown backend", "DOCANALYST_VAULT_BACKEND", "postgres"},
		{"iterations not a number", "DOCANALYST_KDF_ITERATIONS", "many"},
		{"iterations too low", "DOCANALYST_KDF_ITERATIONS", "10"},
		{"bad poll interval", "DOCANALYST_POLL_INTERVAL", "soon"},
		{"zero poll interval", "DOCANALYST_POLL_INTERVAL", "0s"},
		{"negative timeout", "DOCANALYST_JOB_TIMEOUT", "-1m"},
		{"bad log level", "DOCANALYST_LOG_LEVEL", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// TestLoad_EmptySaltFallsBack verifies that an empty salt variable is treated
// as unset rather than producing an unsalted key.
func TestLoad_EmptySaltFallsBack(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("DOCANALYST_VAULT_SALT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte(DefaultSalt), cfg.Salt)
}
