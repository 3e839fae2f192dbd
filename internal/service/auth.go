// Package service holds the authentication core: credential checks, token
// issuance, refresh rotation with replay detection, and session revocation.
//
// Every failure a client may see is an *apperr.Error. Anything else is an
// infrastructure error and renders as 500.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AtoyanMikhail/sessionauth/internal/apperr"
	"github.com/AtoyanMikhail/sessionauth/internal/cache"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/password"
	"github.com/AtoyanMikhail/sessionauth/internal/repository"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/token"
)

// PasswordHasher is the subset of *password.Hasher the service needs.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, encodedHash string) (bool, string, error)
	VerifyTimingSafe(ctx context.Context, password string, encodedHash *string) (bool, string, error)
}

type Deps struct {
	Users   models.UserStore
	Tokens  models.RefreshTokenStore
	Tx      models.Transactor
	Hasher  PasswordHasher
	Codec   *token.Codec
	Limiter cache.LoginLimiter // optional
	Logger  logger.Logger
}

type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

type AuthService struct {
	users   models.UserStore
	tokens  models.RefreshTokenStore
	tx      models.Transactor
	hasher  PasswordHasher
	codec   *token.Codec
	limiter cache.LoginLimiter
	policy  PasswordPolicy
	l       logger.Logger
	now     func() time.Time
}

func NewAuthService(d Deps, policy PasswordPolicy) (*AuthService, error) {
	switch {
	case d.Users == nil:
		return nil, errors.New("user store is required")
	case d.Tokens == nil:
		return nil, errors.New("refresh token store is required")
	case d.Tx == nil:
		return nil, errors.New("transactor is required")
	case d.Hasher == nil:
		return nil, errors.New("password hasher is required")
	case d.Codec == nil:
		return nil, errors.New("token codec is required")
	case d.Logger == nil:
		return nil, errors.New("logger is required")
	}
	if policy.MinLength < 1 || policy.MaxLength < policy.MinLength {
		return nil, fmt.Errorf("invalid password policy: min=%d max=%d", policy.MinLength, policy.MaxLength)
	}

	return &AuthService{
		users:   d.Users,
		tokens:  d.Tokens,
		tx:      d.Tx,
		hasher:  d.Hasher,
		codec:   d.Codec,
		limiter: d.Limiter,
		policy:  policy,
		l:       d.Logger,
		now:     time.Now,
	}, nil
}

type LoginInput struct {
	Email    string
	Password string
	Device   models.DeviceMeta
	// ClientKey identifies the caller for rate limiting, usually the client IP.
	ClientKey string
}

// Session is the result of a successful login or refresh. RefreshToken is the
// raw value and must only travel in the refresh cookie.
type Session struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *models.User
}

// Login verifies credentials and starts a new refresh-token family.
//
// Unknown email, wrong password and inactive account all fail with
// InvalidCredentials after exactly one argon2 verification.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if err := s.checkLoginRate(ctx, in.ClientKey); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var stored *string
	if user != nil {
		stored = &user.HashedPassword
	}

	valid, upgraded, err := s.hasher.VerifyTimingSafe(ctx, in.Password, stored)
	if err != nil {
		if !errors.Is(err, password.ErrMalformedHash) {
			return nil, fmt.Errorf("failed to verify password: %w", err)
		}
		s.l.Error("Stored password hash is malformed", logger.String("user_id", user.ID))
		return nil, apperr.InvalidCredentials()
	}
	if user == nil || !valid || !user.IsActive {
		return nil, apperr.InvalidCredentials()
	}

	if upgraded != "" {
		if err := s.users.UpdatePassword(ctx, user.ID, upgraded); err != nil {
			s.l.Warn("Failed to persist upgraded password hash",
				logger.String("user_id", user.ID),
				logger.Error(err))
		} else {
			user.HashedPassword = upgraded
		}
	}

	familyID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate family id: %w", err)
	}

	access, err := s.codec.IssueAccessToken(user.ID, user.TokenVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refresh, err := s.codec.IssueRefreshToken(user.ID, familyID.String())
	if err != nil {
		return nil, err
	}

	record := newRecord(refresh, in.Device)
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	s.l.Info("User logged in",
		logger.String("user_id", user.ID),
		logger.String("family_id", record.FamilyID))

	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh.Raw,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             user,
	}, nil
}

// checkLoginRate fails open: a limiter outage must not lock everyone out.
func (s *AuthService) checkLoginRate(ctx context.Context, clientKey string) error {
	if s.limiter == nil || clientKey == "" {
		return nil
	}

	ok, err := s.limiter.Allow(ctx, clientKey)
	if err != nil {
		s.l.Warn("Login rate limiter unavailable", logger.Error(err))
		return nil
	}
	if !ok {
		return apperr.RateLimited()
	}
	return nil
}

// Refresh exchanges a live refresh token for a new access token and a
// successor refresh token in the same family.
//
// Presenting a token that is already revoked, or losing a concurrent
// rotation of the same token, revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, rawToken string, device models.DeviceMeta) (*Session, error) {
	if rawToken == "" {
		return nil, apperr.TokenInvalid("Invalid refresh token")
	}

	record, err := s.tokens.GetByHash(ctx, token.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.TokenInvalid("Invalid refresh token")
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	if record.Revoked {
		return nil, s.revokeFamilyOnReplay(ctx, record)
	}
	if record.IsExpired(s.now()) {
		return nil, apperr.TokenExpired()
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, apperr.TokenInvalid("User not found or inactive")
	}

	next, err := s.codec.IssueRefreshToken(user.ID, record.FamilyID)
	if err != nil {
		return nil, err
	}

	successor := newRecord(next, device)
	inheritDevice(successor, record)

	if err := s.tokens.Rotate(ctx, record.ID, successor); err != nil {
		if errors.Is(err, repository.ErrAlreadyRevoked) {
			return nil, s.revokeFamilyOnReplay(ctx, record)
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	access, err := s.codec.IssueAccessToken(user.ID, user.TokenVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.l.Debug("Refresh token rotated",
		logger.String("user_id", user.ID),
		logger.String("family_id", record.FamilyID))

	return &Session{
		AccessToken:      access,
		RefreshToken:     next.Raw,
		RefreshExpiresAt: next.ExpiresAt,
		User:             user,
	}, nil
}

func (s *AuthService) revokeFamilyOnReplay(ctx context.Context, record *models.RefreshToken) error {
	n, err := s.tokens.RevokeFamily(ctx, record.FamilyID)
	if err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	s.l.Warn("Refresh token replay detected, family revoked",
		logger.String("user_id", record.UserID),
		logger.String("family_id", record.FamilyID),
		logger.Int64("revoked", n))

	return apperr.TokenRevoked()
}

// Logout revokes the presented refresh token. Unknown and already revoked
// tokens succeed silently.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	record, err := s.tokens.GetByHash(ctx, token.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load refresh token: %w", err)
	}
	if record.Revoked {
		return nil
	}

	if err := s.tokens.Revoke(ctx, record.ID); err != nil {
		return err
	}

	s.l.Info("User logged out",
		logger.String("user_id", record.UserID),
		logger.String("family_id", record.FamilyID))
	return nil
}

// LogoutAll bumps the user's token version, invalidating every access token
// already issued, and revokes all live refresh tokens. It returns how many
// refresh tokens were revoked.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	var revoked int64
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		revoked, err = s.revokeEverything(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.l.Info("User logged out everywhere",
		logger.String("user_id", userID),
		logger.Int64("revoked", revoked))
	return revoked, nil
}

func (s *AuthService) revokeEverything(ctx context.Context, userID string) (int64, error) {
	if _, err := s.users.IncrementTokenVersion(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, apperr.UserNotFound(userID)
		}
		return 0, fmt.Errorf("failed to bump token version: %w", err)
	}

	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func newRecord(t *token.RefreshToken, device models.DeviceMeta) *models.RefreshToken {
	record := &models.RefreshToken{
		UserID:    t.UserID,
		TokenHash: t.Hash,
		FamilyID:  t.FamilyID,
		ExpiresAt: t.ExpiresAt,
	}
	device.Apply(record)
	return record
}

// inheritDevice fills metadata the refreshing client did not send from the
// record being rotated out.
func inheritDevice(next, prev *models.RefreshToken) {
	if next.DeviceID == nil {
		next.DeviceID = prev.DeviceID
	}
	if next.DeviceName == nil {
		next.DeviceName = prev.DeviceName
	}
	if next.IPAddress == nil {
		next.IPAddress = prev.IPAddress
	}
}
