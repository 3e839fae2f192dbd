package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtoyanMikhail/sessionauth/internal/apperr"
	"github.com/AtoyanMikhail/sessionauth/internal/repository"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/token"
)

func TestTokenJanitor_Sweep(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRefreshTokenStore()

	now := time.Now()
	for hash, expiresAt := range map[string]time.Time{
		"live":          now.Add(time.Hour),
		"recently-dead": now.Add(-time.Hour),
		"long-dead":     now.Add(-48 * time.Hour),
	} {
		require.NoError(t, store.Create(ctx, &models.RefreshToken{
			UserID:    "u1",
			TokenHash: hash,
			FamilyID:  "f-" + hash,
			ExpiresAt: expiresAt,
		}))
	}

	j := NewTokenJanitor(store, time.Hour, 24*time.Hour, &recordingLogger{})
	j.now = func() time.Time { return now }

	assert.Equal(t, int64(1), j.Sweep(ctx))

	_, err := store.GetByHash(ctx, "long-dead")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetByHash(ctx, "recently-dead")
	assert.NoError(t, err, "expired tokens are kept for replay detection until retention passes")

	assert.Equal(t, int64(0), j.Sweep(ctx))
}

func TestTokenJanitor_RunStopsOnCancel(t *testing.T) {
	store := repository.NewMemoryRefreshTokenStore()
	j := NewTokenJanitor(store, 10*time.Millisecond, time.Hour, &recordingLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestTokenJanitor_SweptTokenReplayIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "alice@example.com")

	s := f.login(t, "alice@example.com")
	_, err := f.svc.Refresh(ctx, s.RefreshToken, models.DeviceMeta{})
	require.NoError(t, err)

	old, err := f.tokens.GetByHash(ctx, token.HashToken(s.RefreshToken))
	require.NoError(t, err)
	f.tokens.Expire(old.ID)

	j := NewTokenJanitor(f.tokens, time.Hour, time.Hour, f.log)

	// Inside the retention window the replay is still recognised.
	assert.Equal(t, int64(0), j.Sweep(ctx))
	_, err = f.svc.Refresh(ctx, s.RefreshToken, models.DeviceMeta{})
	assertKind(t, err, apperr.KindTokenRevoked)

	// Once swept, the token is simply unknown.
	now := time.Now()
	j.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.Equal(t, int64(1), j.Sweep(ctx))
	_, err = f.svc.Refresh(ctx, s.RefreshToken, models.DeviceMeta{})
	assertKind(t, err, apperr.KindTokenInvalid)
}
