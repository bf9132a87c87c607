package storage

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func storageConfig(backend string, fallback bool) *config.Config {
	return &config.Config{
		Redis:   config.RedisConfig{KeyPrefix: "test:rollup"},
		Storage: config.StorageConfig{RollupBackend: backend, FallbackToMemory: fallback},
	}
}

func TestOpen_Memory(t *testing.T) {
	events, rollups, err := Open(nil, nil, storageConfig(config.RollupBackendMemory, false), zap.NewNop())

	require.NoError(t, err)
	assert.IsType(t, &InMemoryEventStore{}, events)
	assert.IsType(t, &InMemoryRollupStore{}, rollups)
}

func TestOpen_Fallback(t *testing.T) {
	for _, backend := range []string{config.RollupBackendPostgres, config.RollupBackendRedis} {
		events, rollups, err := Open(nil, nil, storageConfig(backend, true), zap.NewNop())

		require.NoError(t, err, backend)
		assert.IsType(t, &InMemoryEventStore{}, events)
		assert.IsType(t, &InMemoryRollupStore{}, rollups)
	}
}

func TestOpen_NoFallbackFails(t *testing.T) {
	for _, backend := range []string{config.RollupBackendPostgres, config.RollupBackendRedis, "cassandra"} {
		_, _, err := Open(nil, nil, storageConfig(backend, false), zap.NewNop())
		assert.Error(t, err, backend)
	}
}

func TestOpen_RedisRollupsWithMemoryEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	events, rollups, err := Open(nil, client, storageConfig(config.RollupBackendRedis, true), zap.NewNop())

	require.NoError(t, err)
	assert.IsType(t, &InMemoryEventStore{}, events)
	assert.IsType(t, &RedisRollupStore{}, rollups)
}
