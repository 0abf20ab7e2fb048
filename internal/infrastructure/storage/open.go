// Package storage provides JobStore drivers backed by memory, redis and postgres.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"TopicPulse/internal/config"
	"TopicPulse/internal/ports"
)

// Open builds the configured driver and returns a close func for its connections.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (ports.JobStore, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		logger.Info("job store ready", "driver", "memory")
		return NewMemoryStore(), noop, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("job store ready", "driver", "redis", "addr", cfg.Redis.Addr)
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL.D()), client.Close, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store, err := NewPostgresStore(db, cfg.Postgres.Table)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("job store ready", "driver", "postgres", "table", cfg.Postgres.Table)
		return store, db.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
