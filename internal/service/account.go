package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AtoyanMikhail/sessionauth/internal/apperr"
	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/password"
	"github.com/AtoyanMikhail/sessionauth/internal/repository"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/token"
)

type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, apperr.Validation("email is required")
	}
	if err := s.checkPassword(in.Password); err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:          email,
		HashedPassword: hashed,
		IsActive:       true,
		Role:           models.RoleUser,
	}
	if name := strings.TrimSpace(in.FullName); name != "" {
		user.FullName = &name
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperr.EmailAlreadyExists(email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.l.Info("User registered", logger.String("user_id", user.ID))
	return user, nil
}

func (s *AuthService) checkPassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < s.policy.MinLength {
		return apperr.Validation(fmt.Sprintf("password must be at least %d characters", s.policy.MinLength))
	}
	if n > s.policy.MaxLength {
		return apperr.Validation(fmt.Sprintf("password must be at most %d characters", s.policy.MaxLength))
	}
	return nil
}

// Authenticate resolves a bearer access token to its user. Tokens minted
// before the user's last logout-all carry a stale version and fail with
// TokenRevoked.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.codec.DecodeAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != token.TypeAccess {
		return nil, apperr.TokenInvalid("Invalid token type")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.TokenInvalid("User not found or inactive")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, apperr.TokenInvalid("User not found or inactive")
	}
	if claims.Version != user.TokenVersion {
		return nil, apperr.TokenRevoked()
	}

	return user, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.UserNotFound(userID)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// ChangePassword replaces the password and then signs the user out
// everywhere, including the session that made the change.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}

	valid, _, err := s.hasher.Verify(ctx, current, user.HashedPassword)
	if err != nil {
		if !errors.Is(err, password.ErrMalformedHash) {
			return fmt.Errorf("failed to verify password: %w", err)
		}
		s.l.Error("Stored password hash is malformed", logger.String("user_id", userID))
	}
	if !valid {
		return apperr.InvalidCredentials()
	}
	if err := s.checkPassword(next); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var revoked int64
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, userID, hashed); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		n, err := s.revokeEverything(ctx, userID)
		revoked = n
		return err
	})
	if err != nil {
		return err
	}

	s.l.Info("Password changed",
		logger.String("user_id", userID),
		logger.Int64("revoked", revoked))
	return nil
}

// SessionView describes one live refresh token without exposing its hash.
type SessionView struct {
	ID         string
	DeviceID   *string
	DeviceName *string
	IPAddress  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Current    bool
}

// ListSessions returns the user's live sessions, newest first. currentToken
// is the caller's raw refresh token, if any, and marks its own session.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentToken string) ([]SessionView, error) {
	records, err := s.tokens.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var currentHash string
	if currentToken != "" {
		currentHash = token.HashToken(currentToken)
	}

	views := make([]SessionView, 0, len(records))
	for _, r := range records {
		views = append(views, SessionView{
			ID:         r.ID,
			DeviceID:   r.DeviceID,
			DeviceName: r.DeviceName,
			IPAddress:  r.IPAddress,
			CreatedAt:  r.CreatedAt,
			ExpiresAt:  r.ExpiresAt,
			Current:    currentHash != "" && r.TokenHash == currentHash,
		})
	}
	return views, nil
}
