package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connections holds whichever backends the configured stores need. Either
// field may be nil when that backend is not used or not reachable.
type Connections struct {
	Postgres *PostgresDB
	Redis    *RedisDB
}

// Connect dials Postgres unless the memory backend is selected, and Redis
// only for the redis rollup backend. With FallbackToMemory set a failed
// dial is logged and left nil.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Connections, error) {
	conns := &Connections{}
	if cfg.Storage.RollupBackend == config.RollupBackendMemory {
		return conns, nil
	}

	db, err := NewPostgresDB(ctx, cfg.Database, logger)
	switch {
	case err == nil:
		conns.Postgres = db
	case cfg.Storage.FallbackToMemory:
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
	default:
		return nil, err
	}

	if cfg.Storage.RollupBackend == config.RollupBackendRedis {
		rdb, err := NewRedisDB(ctx, cfg.Redis, cfg.Storage.CallTimeout, logger)
		switch {
		case err == nil:
			conns.Redis = rdb
		case cfg.Storage.FallbackToMemory:
			logger.Warn("Redis not available, using in-memory rollups", zap.Error(err))
		default:
			conns.Close()
			return nil, fmt.Errorf("rollup backend redis: %w", err)
		}
	}

	return conns, nil
}

// Pool returns the Postgres pool, or nil.
func (c *Connections) Pool() *pgxpool.Pool {
	if c.Postgres == nil {
		return nil
	}
	return c.Postgres.Pool
}

// RedisClient returns the Redis client, or nil.
func (c *Connections) RedisClient() *redis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client
}

// Close releases every open connection.
func (c *Connections) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.Postgres != nil {
		c.Postgres.Close()
	}
}
