package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"hey-fireball/internal/config"
	"hey-fireball/internal/ledger"
	"hey-fireball/internal/pkg/db"
)

// Migrator is implemented by backends that need a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Pinger is implemented by backends with a remote connection to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpenBackend connects the ledger backend selected by cfg.Storage.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (ledger.Backend, error) {
	logger := log.With().Str("backend", cfg.Storage.Backend).Logger()

	switch cfg.Storage.Backend {
	case config.BackendInMemory:
		logger.Warn().Msg("Using in-memory ledger, points are lost on restart")
		return ledger.NewMemoryBackend(), nil

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		return NewPostgresBackend(pool.Pool), nil

	case config.BackendSQLite:
		sqlDB, err := db.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteBackend(sqlDB), nil

	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
		return NewRedisBackend(client, cfg.Redis.KeyPrefix), nil

	case config.BackendAzureTable:
		client, err := NewAzureTableClient(cfg.AzureTable.ConnectionString, cfg.AzureTable.TableName)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("table", cfg.AzureTable.TableName).Msg("Using Azure table")
		return NewAzureTableBackend(client), nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Storage.Backend)
	}
}

// Migrate applies the backend's schema when it has one.
func Migrate(ctx context.Context, backend ledger.Backend) error {
	m, ok := backend.(Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}
