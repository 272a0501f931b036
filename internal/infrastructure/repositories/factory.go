package repositories

import (
	"context"

	"medea/internal/core/ports"
	"medea/internal/infrastructure/repositories/memory"
	redisrepo "medea/internal/infrastructure/repositories/redis"
	"medea/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory owns the storage backends of the process. Peer state is
// always in memory and private to its room; redis, when reachable, carries
// the shared event bus and room ownership.
type RepositoryFactory struct {
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to redis when enabled. A failed connection
// is logged and the process runs standalone.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{logger: logger}

	if cfg.Redis.Enabled {
		opts := redisrepo.DefaultOptions(cfg.Redis.Address)
		opts.Password = cfg.Redis.Password
		opts.DB = cfg.Redis.DB
		opts.PoolSize = cfg.Redis.PoolSize
		client, err := redisrepo.Connect(ctx, opts, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, running standalone",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

// PeerRepositories returns the constructor used for every new room.
func (f *RepositoryFactory) PeerRepositories() func() ports.PeerRepository {
	return memory.NewMemoryPeerRepository
}

// Redis returns the shared client, nil when running standalone.
func (f *RepositoryFactory) Redis() *redis.Client {
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	return redisrepo.Close(f.redisClient)
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
