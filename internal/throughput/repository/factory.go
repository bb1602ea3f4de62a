package repository

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

// New opens the store selected by config.
func New(ctx context.Context, config configuration.StoreConfig) (JobRepository, error) {
	switch config.Type {
	case configuration.SqliteStore:
		return NewSqliteJobRepository(ctx, config.Path)
	case configuration.PostgresStore:
		return NewPostgresJobRepository(ctx, config.Postgres)
	case configuration.RedisStore:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{config.Redis.Addr},
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		return NewRedisJobRepository(client), nil
	case configuration.MemoryStore:
		return NewMemDbJobRepository()
	}
	return nil, errors.Errorf("unknown store type %q", config.Type)
}
