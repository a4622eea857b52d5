package main

import (
	"context"
	"fmt"

	"github.com/devrev/causality/internal/config"
	"github.com/devrev/causality/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = cfg.Format
	if cfg.Format == "console" {
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zcfg.Build()
}

func openStateStore(cfg *config.Config, logger *zap.Logger) (store.StateStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		st, err := store.NewRedisStateStore(store.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize state store: %w", err)
		}
		logger.Info("Redis state store initialized",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port))
		return st, nil
	default:
		logger.Warn("Using in-memory state store; clock state will not survive a restart")
		return store.NewInMemoryStateStore(logger), nil
	}
}

func openEventLog(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.EventLog, error) {
	switch cfg.EventLog.Backend {
	case "postgres":
		log, err := store.NewPostgresEventLog(ctx, store.PostgresConfig{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			Database:       cfg.Database.Database,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MinConnections,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize event log: %w", err)
		}
		logger.Info("PostgreSQL event log initialized",
			zap.String("database_host", cfg.Database.Host),
			zap.String("database_name", cfg.Database.Database))
		return log, nil
	default:
		return store.NewInMemoryEventLog(), nil
	}
}
