// Package main is the entrypoint for the oauth2-server binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	oauth "github.com/giantswarm/oauth2-server"
	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/internal/config"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/server"
	"github.com/giantswarm/oauth2-server/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	storageDriver := flag.String("storage-driver", "", "Storage driver: memory, sqlite, or valkey (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:    listenAddr,
			LogLevel:      logLevel,
			StorageDriver: storageDriver,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "oauth2-server"
	}
	serviceVersion := cfg.Telemetry.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down instrumentation", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, inst, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fixtures := cfg.SeedFixtures()
	if !fixtures.IsEmpty() {
		if err := storage.Seed(ctx, store, fixtures, 0); err != nil {
			return fmt.Errorf("failed to seed fixtures: %w", err)
		}
		logger.Info("seeded fixtures",
			"scopes", len(fixtures.Scopes),
			"clients", len(fixtures.Clients),
			"users", len(fixtures.Users),
			"authorizations", len(fixtures.Authorizations))
	}

	srv, err := server.New(store, cfg.ServerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create oauth server: %w", err)
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, true))

	handler, err := oauth.NewHandler(srv, &oauth.Config{
		Issuer:            cfg.HTTP.Issuer,
		TrustProxy:        cfg.HTTP.TrustProxy,
		TrustedProxyCount: cfg.HTTP.TrustedProxyCount,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting oauth2 server",
			"addr", cfg.ListenAddr,
			"storage_driver", cfg.Storage.Driver,
			"telemetry", cfg.Telemetry.Enabled,
			"version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
