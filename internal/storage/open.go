package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Open selects the event and rollup stores. A nil pool or client means that
// backend is unavailable; with fallback allowed the in-memory stores take
// its place, otherwise Open fails.
func Open(pool *pgxpool.Pool, client *redis.Client, cfg *config.Config, logger *zap.Logger) (EventStore, RollupStore, error) {
	fallback := cfg.Storage.FallbackToMemory

	var events EventStore
	switch {
	case cfg.Storage.RollupBackend == config.RollupBackendMemory:
		events = NewInMemoryEventStore()
	case pool != nil:
		events = NewPostgresEventStore(pool)
	case fallback:
		logger.Warn("postgres unavailable, using in-memory event store")
		events = NewInMemoryEventStore()
	default:
		return nil, nil, fmt.Errorf("event store: postgres is not connected")
	}

	var rollups RollupStore
	switch cfg.Storage.RollupBackend {
	case config.RollupBackendMemory:
		rollups = NewInMemoryRollupStore()
	case config.RollupBackendRedis:
		switch {
		case client != nil:
			rollups = NewRedisRollupStore(client, cfg.Redis.KeyPrefix)
		case fallback:
			logger.Warn("redis unavailable, using in-memory rollup store")
			rollups = NewInMemoryRollupStore()
		default:
			return nil, nil, fmt.Errorf("rollup store: redis is not connected")
		}
	case config.RollupBackendPostgres:
		switch {
		case pool != nil:
			rollups = NewPostgresRollupStore(pool)
		case fallback:
			logger.Warn("postgres unavailable, using in-memory rollup store")
			rollups = NewInMemoryRollupStore()
		default:
			return nil, nil, fmt.Errorf("rollup store: postgres is not connected")
		}
	default:
		return nil, nil, fmt.Errorf("unsupported rollup backend %q", cfg.Storage.RollupBackend)
	}

	logger.Info("storage selected",
		zap.String("events", fmt.Sprintf("%T", events)),
		zap.String("rollups", fmt.Sprintf("%T", rollups)),
	)
	return events, rollups, nil
}
