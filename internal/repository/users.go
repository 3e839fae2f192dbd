package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
)

const (
	userColumns = `id, email, hashed_password, full_name, is_active, is_verified, role,
		token_version, created_at, updated_at`

	pgUniqueViolation = "23505"
)

type userRepo struct {
	db *sqlx.DB
	l  logger.Logger
}

func NewUserRepository(db *sqlx.DB, l logger.Logger) models.UserStore {
	return &userRepo{db: db, l: l}
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail matches case-insensitively; emails are stored lower-cased.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
}

func (r *userRepo) getOne(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := conn(ctx, r.db).GetContext(ctx, user, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.Email = normalizeEmail(user.Email)

	query := `
		INSERT INTO users (id, email, hashed_password, full_name, is_active, is_verified, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING token_version, created_at`

	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		user.ID,
		user.Email,
		user.HashedPassword,
		user.FullName,
		user.IsActive,
		user.IsVerified,
		user.Role,
	).Scan(&user.TokenVersion, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrDuplicateEmail
		}
		r.l.Error("Failed to insert user", logger.Error(err))
		return fmt.Errorf("failed to insert user: %w", err)
	}

	r.l.Info("User created", logger.String("user_id", user.ID))
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	query := `UPDATE users SET hashed_password = $2, updated_at = NOW() WHERE id = $1`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, id, hashedPassword)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *userRepo) IncrementTokenVersion(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE users
		SET token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING token_version`

	var version int
	err := conn(ctx, r.db).QueryRowxContext(ctx, query, id).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment token version: %w", err)
	}

	return version, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
