package service

import (
	"context"
	"time"

	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
)

// TokenJanitor deletes refresh tokens that expired more than retention ago.
// Revoked rows stay until then so replays of old tokens are still detected.
// After that a replayed token is unknown and Refresh reports TokenInvalid.
type TokenJanitor struct {
	tokens    models.RefreshTokenStore
	interval  time.Duration
	retention time.Duration
	l         logger.Logger
	now       func() time.Time
}

func NewTokenJanitor(tokens models.RefreshTokenStore, interval, retention time.Duration, l logger.Logger) *TokenJanitor {
	return &TokenJanitor{
		tokens:    tokens,
		interval:  interval,
		retention: retention,
		l:         l,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (j *TokenJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.Sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *TokenJanitor) Sweep(ctx context.Context) int64 {
	n, err := j.tokens.DeleteExpired(ctx, j.now().Add(-j.retention))
	if err != nil {
		if ctx.Err() == nil {
			j.l.Error("Failed to delete expired refresh tokens", logger.Error(err))
		}
		return 0
	}
	if n > 0 {
		j.l.Info("Expired refresh tokens deleted", logger.Int64("count", n))
	}
	return n
}
