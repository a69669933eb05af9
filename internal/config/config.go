// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Vault backends accepted by DOCANALYST_VAULT_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Defaults for optional variables.
const (
	DefaultListenAddr    = "127.0.0.1:8080"
	DefaultDBPath        = "docanalyst.db"
	DefaultVaultFile     = ".docanalyst_vault.json"
	DefaultSalt          = "financial-auto-analysis-salt"
	DefaultKDFIterations = 390000
	DefaultPollInterval  = time.Second
	DefaultJobTimeout    = 10 * time.Minute
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// minKDFIterations rejects configurations that would make PIN brute force
// trivial.
const minKDFIterations = 1000

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	VaultBackend  string
	DBPath        string
	VaultFile     string
	Salt          []byte
	KDFIterations int
	PollInterval  time.Duration
	JobTimeout    time.Duration
	OpenAIBaseURL string
	DownloadDir   string
	LogLevel      slog.Level
}

// Load reads DOCANALYST_* variables and returns a validated Config. Every
// variable is optional; see the Default* constants. DOCANALYST_DOWNLOAD_DIR
// defaults to the working directory.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    envOr("DOCANALYST_LISTEN_ADDR", DefaultListenAddr),
		VaultBackend:  strings.ToLower(envOr("DOCANALYST_VAULT_BACKEND", BackendSQLite)),
		DBPath:        envOr("DOCANALYST_DB_PATH", DefaultDBPath),
		VaultFile:     envOr("DOCANALYST_VAULT_FILE", DefaultVaultFile),
		Salt:          []byte(envOr("DOCANALYST_VAULT_SALT", DefaultSalt)),
		KDFIterations: DefaultKDFIterations,
		PollInterval:  DefaultPollInterval,
		JobTimeout:    DefaultJobTimeout,
		OpenAIBaseURL: strings.TrimRight(envOr("DOCANALYST_OPENAI_BASE_URL", DefaultOpenAIBaseURL), "/"),
		LogLevel:      slog.LevelInfo,
	}

	switch cfg.VaultBackend {
	case BackendSQLite, BackendFile:
	default:
		return nil, fmt.Errorf("DOCANALYST_VAULT_BACKEND must be %q or %q, got %q", BackendSQLite, BackendFile, cfg.VaultBackend)
	}

	if v, ok := os.LookupEnv("DOCANALYST_KDF_ITERATIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("DOCANALYST_KDF_ITERATIONS has invalid value %q: %w", v, err)
		}
		if n < minKDFIterations {
			return nil, fmt.Errorf("DOCANALYST_KDF_ITERATIONS must be at least %d, got %d", minKDFIterations, n)
		}
		cfg.KDFIterations = n
	}

	var err error
	if cfg.PollInterval, err = durationEnv("DOCANALYST_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = durationEnv("DOCANALYST_JOB_TIMEOUT", DefaultJobTimeout); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("DOCANALYST_DOWNLOAD_DIR"); ok && v != "" {
		cfg.DownloadDir = v
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.DownloadDir = wd
	}

	if v, ok := os.LookupEnv("DOCANALYST_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("DOCANALYST_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// durationEnv parses key as a positive time.Duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
