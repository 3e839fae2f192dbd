package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AtoyanMikhail/sessionauth/internal/config"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
)

type redisCache struct {
	client *redis.Client
	logger logger.Logger
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg config.RedisConfig, l logger.Logger) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	l.Info("Redis connection established",
		logger.String("addr", cfg.Addr),
		logger.Int("db", cfg.DB))

	return &redisCache{
		client: client,
		logger: l,
	}, nil
}

// IncrementWithTTL increments key and starts its TTL on the first increment,
// so the window is fixed from the first hit rather than sliding. A key left
// without a TTL gets one on its next increment.
func (r *redisCache) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to increment with TTL",
			logger.String("key", key),
			logger.Error(err))
		return 0, fmt.Errorf("failed to increment with TTL: %w", err)
	}

	if ttlCmd.Val() < 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			r.logger.Warn("Failed to set TTL after increment",
				logger.String("key", key),
				logger.Error(err))
		}
	}

	return incrCmd.Val(), nil
}

func (r *redisCache) Close() error {
	err := r.client.Close()
	if err != nil {
		r.logger.Error("Failed to close Redis connection", logger.Error(err))
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping return error if no connection to redis
func (r *redisCache) Ping(ctx context.Context) error {
	err := r.client.Ping(ctx).Err()
	if err != nil {
		r.logger.Error("Redis ping failed", logger.Error(err))
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}
