package redis

import (
	"context"
	"fmt"
	"time"

	"medea/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options describe the shared redis connection. It carries the event bus and
// the room ownership locks, so the pool stays small.
type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// Connect bounds every ping made while connecting.
	Connect time.Duration
	Retry   retry.Config
}

// DefaultOptions returns connection settings for address.
func DefaultOptions(address string) Options {
	r := retry.DefaultConfig()
	r.MaxAttempts = 2
	r.InitialDelay = 500 * time.Millisecond
	return Options{
		Address:  address,
		PoolSize: 10,
		Connect:  2 * time.Second,
		Retry:    r,
	}
}

func (o Options) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  o.Connect,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Connect opens a client and pings it, retrying with backoff. The client is
// closed again when no ping succeeds.
func Connect(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(opts.redisOptions())

	cfg := opts.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warnw("Redis ping failed, retrying",
			"address", opts.Address,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	err := retry.Retry(ctx, cfg, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.Connect)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Address, err)
	}

	logger.Infow("Connected to Redis",
		"address", opts.Address,
		"db", opts.DB,
		"pool_size", opts.PoolSize,
	)
	return client, nil
}

// Close closes client; a nil client is a no-op.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
