package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/config"
	"github.com/raaihank/moltkeeper/internal/ledger"
	"github.com/raaihank/moltkeeper/internal/logger"
	"github.com/raaihank/moltkeeper/internal/session"
	"github.com/raaihank/moltkeeper/internal/vault"
)

// application holds what every command needs
type application struct {
	config  *config.Config
	logger  *logger.Logger
	catalog vault.Catalog
	redis   *redis.Client
	ledger  *ledger.Store
}

// setup loads configuration, builds the logger and connects the vault
// backend and, when enabled, the run ledger.
func setup(configPath string) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &application{config: cfg, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Vault.Backend {
	case "redis":
		client, err := vault.NewRedisClient(ctx, vault.RedisOptions{
			URL:          cfg.Vault.RedisURL,
			PoolSize:     cfg.Vault.PoolSize,
			MinIdleConns: cfg.Vault.MinIdleConns,
			KeyPrefix:    cfg.Vault.KeyPrefix,
		}, log.Logger)
		if err != nil {
			app.close()
			return nil, err
		}
		app.redis = client
		app.catalog = vault.NewRedisCatalog(client, cfg.Vault.KeyPrefix)
	default:
		app.catalog = vault.NewFileCatalog(cfg.Vault.Dir)
	}

	if cfg.Ledger.Enabled {
		store, err := ledger.Open(ctx, &ledger.Config{
			Driver:          cfg.Ledger.Driver,
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: cfg.Ledger.ConnMaxLifetime,
		}, log.Logger)
		if err != nil {
			app.close()
			return nil, err
		}
		app.ledger = store
	}

	return app, nil
}

// sessionOptions wires the ledger into a session service when enabled
func (a *application) sessionOptions() []session.Option {
	if a.ledger == nil {
		return nil
	}
	return []session.Option{session.WithRecorder(a.ledger)}
}

func (a *application) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("Failed to close ledger", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
