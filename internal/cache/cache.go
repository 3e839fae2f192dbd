package cache

import (
	"context"
	"time"
)

type Cache interface {
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
	Ping(ctx context.Context) error
}

// LoginLimiter counts login attempts per client key in fixed windows.
type LoginLimiter interface {
	// Allow records one attempt for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}
