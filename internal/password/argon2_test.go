package password

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		Workers:     2,
	}
}

func newTestHasher(t *testing.T, cfg Config) *Hasher {
	t.Helper()
	h, err := NewHasher(cfg)
	require.NoError(t, err)
	return h
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$"))

	tests := []struct {
		name      string
		password  string
		wantValid bool
	}{
		{name: "correct password", password: "Passw0rd!", wantValid: true},
		{name: "wrong password", password: "Passw0rd?", wantValid: false},
		{name: "empty password", password: "", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, upgraded, err := h.Verify(ctx, tt.password, encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, valid)
			assert.Empty(t, upgraded)
		})
	}
}

func TestHasher_HashIsSalted(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	a, err := h.Hash(ctx, "same-password")
	require.NoError(t, err)
	b, err := h.Hash(ctx, "same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHasher_VerifyReturnsUpgradedHashForOutdatedParams(t *testing.T) {
	ctx := context.Background()
	old := newTestHasher(t, testConfig())

	stronger := testConfig()
	stronger.Time = 2
	current := newTestHasher(t, stronger)

	encoded, err := old.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)

	valid, upgraded, err := current.Verify(ctx, "Passw0rd!", encoded)
	require.NoError(t, err)
	assert.True(t, valid)
	require.NotEmpty(t, upgraded)
	assert.Contains(t, upgraded, "t=2")

	valid, again, err := current.Verify(ctx, "Passw0rd!", upgraded)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, again)
}

func TestHasher_WrongPasswordDoesNotUpgrade(t *testing.T) {
	ctx := context.Background()
	old := newTestHasher(t, testConfig())

	stronger := testConfig()
	stronger.Time = 2
	current := newTestHasher(t, stronger)

	encoded, err := old.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)

	valid, upgraded, err := current.Verify(ctx, "nope", encoded)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Empty(t, upgraded)
}

func TestHasher_VerifyTimingSafe(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)
	empty := ""

	tests := []struct {
		name      string
		hash      *string
		password  string
		wantValid bool
	}{
		{name: "absent hash", hash: nil, password: "Passw0rd!", wantValid: false},
		{name: "empty hash", hash: &empty, password: "Passw0rd!", wantValid: false},
		{name: "real hash correct", hash: &encoded, password: "Passw0rd!", wantValid: true},
		{name: "real hash wrong", hash: &encoded, password: "wrong", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, upgraded, err := h.VerifyTimingSafe(ctx, tt.password, tt.hash)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, valid)
			assert.Empty(t, upgraded)
		})
	}
}

func TestHasher_UnknownUserTimingMatchesWrongPassword(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)

	measure := func(hash *string) time.Duration {
		const rounds = 5
		start := time.Now()
		for i := 0; i < rounds; i++ {
			_, _, err := h.VerifyTimingSafe(ctx, "wrong-password", hash)
			require.NoError(t, err)
		}
		return time.Since(start) / rounds
	}

	// warm up allocator
	measure(nil)

	unknown := measure(nil)
	wrong := measure(&encoded)

	ratio := float64(unknown) / float64(wrong)
	assert.Greater(t, ratio, 0.33, "unknown=%s wrong=%s", unknown, wrong)
	assert.Less(t, ratio, 3.0, "unknown=%s wrong=%s", unknown, wrong)
}

func TestHasher_VerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		hash string
	}{
		{name: "garbage", hash: "not-a-hash"},
		{name: "bcrypt", hash: "$2a$10$abcdefghijklmnopqrstuu5JxQ3Z6b4p3B7r3n8eW9F6Zt6JQ7b2y"},
		{name: "wrong version", hash: "$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA"},
		{name: "memory below floor", hash: "$argon2id$v=19$m=64,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA"},
		{name: "missing param", hash: "$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA"},
		{name: "short salt", hash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaGhhc2hoYXNoaGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, upgraded, err := h.Verify(ctx, "Passw0rd!", tt.hash)
			assert.ErrorIs(t, err, ErrMalformedHash)
			assert.False(t, valid)
			assert.Empty(t, upgraded)
		})
	}
}

func TestHasher_AcceptsPaddedBase64(t *testing.T) {
	h := newTestHasher(t, testConfig())
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "Passw0rd!")
	require.NoError(t, err)

	// 16-byte salt and 32-byte key both need padding in std encoding.
	parts := strings.Split(encoded, "$")
	parts[4] += "=="
	parts[5] += "="
	padded := strings.Join(parts, "$")

	valid, _, err := h.Verify(ctx, "Passw0rd!", padded)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestHasher_CancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	h := newTestHasher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hash(ctx, "Passw0rd!")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHasher_RejectsWeakConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "memory", mutate: func(c *Config) { c.Memory = 1024 }},
		{name: "time", mutate: func(c *Config) { c.Time = 0 }},
		{name: "parallelism", mutate: func(c *Config) { c.Parallelism = 0 }},
		{name: "salt", mutate: func(c *Config) { c.SaltLength = 8 }},
		{name: "key", mutate: func(c *Config) { c.KeyLength = 8 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewHasher(cfg)
			assert.Error(t, err)
		})
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := newPool(2)
	ctx := context.Background()

	var (
		inFlight int32
		peak     int32
		wg       sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.run(ctx, func() {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, int32(0), atomic.LoadInt32(&inFlight))
}
