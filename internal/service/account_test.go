package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtoyanMikhail/sessionauth/internal/apperr"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/token"
)

func TestRegister(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{
		Email:    "  Alice@Example.com ",
		Password: testPassword,
		FullName: "Alice Liddell",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.Equal(t, models.RoleUser, user.Role)
	require.NotNil(t, user.FullName)
	assert.Equal(t, "Alice Liddell", *user.FullName)
	assert.True(t, strings.HasPrefix(user.HashedPassword, "$argon2id$"))
	assert.Equal(t, 0, user.TokenVersion)

	tests := []struct {
		name string
		in   RegisterInput
		kind apperr.Kind
	}{
		{
			name: "duplicate email in another case",
			in:   RegisterInput{Email: "ALICE@example.com", Password: testPassword},
			kind: apperr.KindEmailExists,
		},
		{
			name: "password too short",
			in:   RegisterInput{Email: "bob@example.com", Password: "short"},
			kind: apperr.KindValidation,
		},
		{
			name: "password too long",
			in:   RegisterInput{Email: "bob@example.com", Password: strings.Repeat("x", 129)},
			kind: apperr.KindValidation,
		},
		{
			name: "blank email",
			in:   RegisterInput{Email: "   ", Password: testPassword},
			kind: apperr.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.in)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alice := f.register(t, "alice@example.com")
	s := f.login(t, "alice@example.com")

	got, err := f.svc.Authenticate(ctx, s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	ghost, err := f.codec.IssueAccessToken("4b7e1f1a-0000-4000-8000-000000000000", 0, nil)
	require.NoError(t, err)

	withExtras, err := f.codec.IssueAccessToken(alice.ID, 0, map[string]interface{}{"role": "admin"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		setup func()
		kind  apperr.Kind
	}{
		{name: "garbage", token: "not.a.jwt", kind: apperr.KindTokenInvalid},
		{name: "refresh token as bearer", token: s.RefreshToken, kind: apperr.KindTokenInvalid},
		{name: "unknown subject", token: ghost, kind: apperr.KindTokenInvalid},
		{
			name:  "inactive user",
			token: withExtras,
			setup: func() { require.NoError(t, f.users.SetActive(alice.ID, false)) },
			kind:  apperr.KindTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := f.svc.Authenticate(ctx, tt.token)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestCurrentUser(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "alice@example.com")

	got, err := f.svc.CurrentUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	_, err = f.svc.CurrentUser(context.Background(), "missing")
	assertKind(t, err, apperr.KindUserNotFound)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alice := f.register(t, "alice@example.com")
	s := f.login(t, "alice@example.com")

	err := f.svc.ChangePassword(ctx, alice.ID, "wrong-password", "N3w-passphrase")
	assertKind(t, err, apperr.KindInvalidCredentials)

	err = f.svc.ChangePassword(ctx, alice.ID, testPassword, "short")
	assertKind(t, err, apperr.KindValidation)

	require.NoError(t, f.svc.ChangePassword(ctx, alice.ID, testPassword, "N3w-passphrase"))

	// Every existing session is gone.
	_, err = f.svc.Authenticate(ctx, s.AccessToken)
	assertKind(t, err, apperr.KindTokenRevoked)
	_, err = f.svc.Refresh(ctx, s.RefreshToken, models.DeviceMeta{})
	assertKind(t, err, apperr.KindTokenRevoked)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	assertKind(t, err, apperr.KindInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "N3w-passphrase"})
	assert.NoError(t, err)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	alice := f.register(t, "alice@example.com")
	phone, err := f.svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: testPassword,
		Device:   models.DeviceMeta{DeviceName: "phone"},
	})
	require.NoError(t, err)
	laptop, err := f.svc.Login(ctx, LoginInput{
		Email:    "alice@example.com",
		Password: testPassword,
		Device:   models.DeviceMeta{DeviceName: "laptop"},
	})
	require.NoError(t, err)
	revoked := f.login(t, "alice@example.com")
	require.NoError(t, f.svc.Logout(ctx, revoked.RefreshToken))

	sessions, err := f.svc.ListSessions(ctx, alice.ID, laptop.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byName := map[string]SessionView{}
	for _, s := range sessions {
		require.NotNil(t, s.DeviceName)
		byName[*s.DeviceName] = s
		assert.True(t, s.ExpiresAt.After(time.Now()))
	}
	assert.True(t, byName["laptop"].Current)
	assert.False(t, byName["phone"].Current)

	// Rotation keeps the device name on the successor.
	_, err = f.svc.Refresh(ctx, phone.RefreshToken, models.DeviceMeta{})
	require.NoError(t, err)
	sessions, err = f.svc.ListSessions(ctx, alice.ID, "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	names := []string{*sessions[0].DeviceName, *sessions[1].DeviceName}
	assert.ElementsMatch(t, []string{"phone", "laptop"}, names)

	record, err := f.tokens.GetByHash(ctx, token.HashToken(phone.RefreshToken))
	require.NoError(t, err)
	assert.True(t, record.Revoked)
}
