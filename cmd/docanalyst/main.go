package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	downloadadapter "github.com/ericfisherdev/docanalyst/internal/adapter/driven/download"
	openaiadapter "github.com/ericfisherdev/docanalyst/internal/adapter/driven/openai"
	sqliteadapter "github.com/ericfisherdev/docanalyst/internal/adapter/driven/sqlite"
	vaultfileadapter "github.com/ericfisherdev/docanalyst/internal/adapter/driven/vaultfile"
	httphandler "github.com/ericfisherdev/docanalyst/internal/adapter/driving/http"
	"github.com/ericfisherdev/docanalyst/internal/adapter/driving/web"
	"github.com/ericfisherdev/docanalyst/internal/application"
	"github.com/ericfisherdev/docanalyst/internal/config"
	"github.com/ericfisherdev/docanalyst/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Optional .env, then configuration from the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"vault_backend", cfg.VaultBackend,
		"poll_interval", cfg.PollInterval,
		"job_timeout", cfg.JobTimeout,
		"openai_base_url", cfg.OpenAIBaseURL,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the vault store.
	store, closeStore, err := openVaultStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	vault, err := application.OpenVault(ctx, store, cfg.Salt, cfg.KDFIterations)
	if err != nil {
		return err
	}
	slog.Info("vault opened", "secrets", len(vault.ListNames()))

	// 4. Assistant clients are built per API key and share one transport.
	httpClient := &http.Client{Timeout: 60 * time.Second}
	if _, err := openaiadapter.NewClientWithHTTPClient(httpClient, cfg.OpenAIBaseURL, ""); err != nil {
		return fmt.Errorf("DOCANALYST_OPENAI_BASE_URL: %w", err)
	}
	provider := application.NewAssistantClientProvider(func(apiKey string) driven.AssistantClient {
		// The base URL was validated above.
		client, _ := openaiadapter.NewClientWithHTTPClient(httpClient, cfg.OpenAIBaseURL, apiKey)
		return client
	})

	// 5. Services.
	session := application.NewSession(vault, provider)
	orch := application.NewOrchestrator(provider)
	docs := downloadadapter.NewFetcher()

	// 6. HTTP API.
	logger := slog.Default()
	apiHandler := httphandler.NewHandler(vault, session, orch, docs, httphandler.Options{
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		DownloadDir:  cfg.DownloadDir,
		Render:       web.RenderReply,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		// Job requests hold the connection for up to the job timeout.
		WriteTimeout: cfg.JobTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("docanalyst started", "listen_addr", cfg.ListenAddr)

	// 7. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 8. Graceful shutdown. Remote runs are not cancelled; they can be polled
	// again after restart with their conversation and run ids.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// openVaultStore opens the configured backend and returns a close func.
func openVaultStore(ctx context.Context, cfg *config.Config) (driven.VaultStore, func(), error) {
	switch cfg.VaultBackend {
	case config.BackendFile:
		slog.Info("vault file", "path", cfg.VaultFile)
		return vaultfileadapter.NewStore(cfg.VaultFile), func() {}, nil

	default:
		db, err := sqliteadapter.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("database opened", "path", cfg.DBPath)

		closeDB := func() {
			if err := db.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		}
		return sqliteadapter.NewVaultRepo(db), closeDB, nil
	}
}
