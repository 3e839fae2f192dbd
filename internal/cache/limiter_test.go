package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AtoyanMikhail/sessionauth/internal/config"
)

// Mock Cache for testing the limiter in isolation
type mockCache struct {
	mock.Mock
}

func (m *mockCache) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, key, ttl)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockCache) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func limiterConfig(attempts int, window time.Duration) config.RateLimitConfig {
	return config.RateLimitConfig{
		LoginAttempts: attempts,
		LoginWindow:   config.Duration(window),
	}
}

func TestLoginLimiter_FixedWindow(t *testing.T) {
	cache, mr, cleanup := SetupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	limiter := NewLoginLimiter(cache, limiterConfig(3, time.Minute), &mockLogger{})

	for i := 1; i <= 3; i++ {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i)
	}

	ok, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other clients are counted separately.
	ok, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Rejected attempts still count.
	n, err := mr.Get(LoginAttemptPrefix + "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "4", n)

	mr.FastForward(time.Minute)

	ok, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginLimiter_Disabled(t *testing.T) {
	mc := &mockCache{}
	limiter := NewLoginLimiter(mc, limiterConfig(0, time.Minute), &mockLogger{})

	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(context.Background(), "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	mc.AssertNotCalled(t, "IncrementWithTTL", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginLimiter_CacheError(t *testing.T) {
	mc := &mockCache{}
	limiter := NewLoginLimiter(mc, limiterConfig(5, time.Minute), &mockLogger{})

	mc.On("IncrementWithTTL", mock.Anything, LoginAttemptPrefix+"10.0.0.1", time.Minute).
		Return(int64(0), fmt.Errorf("connection refused"))

	ok, err := limiter.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.False(t, ok)
	mc.AssertExpectations(t)
}
