package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/internal/config"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
	"github.com/giantswarm/oauth2-server/storage/memory"
	"github.com/giantswarm/oauth2-server/storage/sql"
	"github.com/giantswarm/oauth2-server/storage/valkey"
)

type seededStore interface {
	storage.Store
	storage.Seeder
}

// openStore opens the configured storage driver. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, inst *instrumentation.Instrumentation, logger *slog.Logger) (seededStore, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		sc, err := cfg.SQL(logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := sql.New(ctx, sql.Config{DSN: sc.DSN, Debug: sc.Debug, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store.SetInstrumentation(inst)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close sqlite store", "error", err)
			}
		}, nil

	case config.DriverValkey:
		vc, err := cfg.Valkey(logger)
		if err != nil {
			return nil, nil, err
		}
		valkeyCfg := valkey.Config{
			Address:      vc.Address,
			Password:     vc.Password,
			DB:           vc.DB,
			KeyPrefix:    vc.KeyPrefix,
			DisableCache: vc.DisableCache,
			Logger:       logger,
		}
		if vc.TLS {
			valkeyCfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(valkeyCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open valkey store: %w", err)
		}
		if vc.EncryptionKey != "" {
			key, err := security.KeyFromBase64(vc.EncryptionKey)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("invalid valkey encryption_key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
			}
			store.SetEncryptor(enc)
		} else {
			logger.Warn("valkey store has no encryption_key, records are stored unencrypted")
		}
		return store, store.Close, nil

	default:
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		return store, func() {}, nil
	}
}
