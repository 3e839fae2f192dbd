package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/AtoyanMikhail/sessionauth/internal/config"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
)

const LoginAttemptPrefix = "ratelimit:login:"

type loginLimiter struct {
	cache  Cache
	logger logger.Logger
	limit  int64
	window time.Duration
}

// NewLoginLimiter returns a limiter allowing cfg.LoginAttempts per
// cfg.LoginWindow. A zero limit disables limiting.
func NewLoginLimiter(cache Cache, cfg config.RateLimitConfig, l logger.Logger) LoginLimiter {
	return &loginLimiter{
		cache:  cache,
		logger: l,
		limit:  int64(cfg.LoginAttempts),
		window: cfg.LoginWindow.Std(),
	}
}

func (rl *loginLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.limit <= 0 {
		return true, nil
	}

	count, err := rl.cache.IncrementWithTTL(ctx, LoginAttemptPrefix+key, rl.window)
	if err != nil {
		return false, fmt.Errorf("failed to record login attempt: %w", err)
	}

	if count > rl.limit {
		rl.logger.Warn("Login rate limit exceeded",
			logger.String("client", key),
			logger.Int64("attempts", count))
		return false, nil
	}

	return true, nil
}
