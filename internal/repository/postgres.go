package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/AtoyanMikhail/sessionauth/internal/logger"
	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
)

const refreshTokenColumns = `id, user_id, token_hash, family_id, expires_at, revoked, revoked_at,
		device_id, device_name, ip_address, created_at`

type refreshTokenRepo struct {
	db *sqlx.DB
	l  logger.Logger
}

func NewRefreshTokenRepository(db *sqlx.DB, l logger.Logger) models.RefreshTokenStore {
	return &refreshTokenRepo{db: db, l: l}
}

func (r *refreshTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	return r.insert(ctx, conn(ctx, r.db), token)
}

func (r *refreshTokenRepo) insert(ctx context.Context, q dbtx, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, family_id, expires_at, device_id, device_name, ip_address)
		VALUES (:id, :user_id, :token_hash, :family_id, :expires_at, :device_id, :device_name, :ip_address)
		RETURNING created_at`

	stmt, err := q.PrepareNamedContext(ctx, query)
	if err != nil {
		r.l.Error("Failed to prepare query", logger.Error(err))
		return fmt.Errorf("failed to prepare query: %w", err)
	}
	defer stmt.Close()

	err = stmt.QueryRowxContext(ctx, token).Scan(&token.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrDuplicateHash
		}
		r.l.Error("Failed to execute insert query", logger.Error(err))
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}

	r.l.Debug("Refresh token created",
		logger.String("id", token.ID),
		logger.String("user_id", token.UserID),
		logger.String("family_id", token.FamilyID))
	return nil
}

func (r *refreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1`

	token := &models.RefreshToken{}
	err := conn(ctx, r.db).GetContext(ctx, token, query, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// Revoke is idempotent: revoking an already revoked token is not an error.
func (r *refreshTokenRepo) Revoke(ctx context.Context, id string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = NOW()
		WHERE id = $1 AND revoked = false`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		r.l.Error("Failed to revoke token", logger.Error(err), logger.String("token_id", id))
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}

func (r *refreshTokenRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = NOW()
		WHERE family_id = $1 AND revoked = false`

	n, err := r.execCount(ctx, query, familyID)
	if err != nil {
		r.l.Error("Failed to revoke token family", logger.Error(err), logger.String("family_id", familyID))
		return 0, fmt.Errorf("failed to revoke token family: %w", err)
	}

	return n, nil
}

func (r *refreshTokenRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = true, revoked_at = NOW()
		WHERE user_id = $1 AND revoked = false AND expires_at > NOW()`

	n, err := r.execCount(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke tokens for user %s: %w", userID, err)
	}

	return n, nil
}

func (r *refreshTokenRepo) Rotate(ctx context.Context, oldID string, next *models.RefreshToken) error {
	return inTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)

		// The row lock taken here serializes concurrent rotations of the same
		// token; the loser re-reads revoked = true and matches zero rows.
		result, err := q.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = true, revoked_at = NOW()
			WHERE id = $1 AND revoked = false`, oldID)
		if err != nil {
			return fmt.Errorf("failed to revoke rotated token: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrAlreadyRevoked
		}

		return r.insert(ctx, q, next)
	})
}

func (r *refreshTokenRepo) ListActiveForUser(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND expires_at > NOW() AND revoked = false
		ORDER BY created_at DESC`

	var tokens []*models.RefreshToken
	err := conn(ctx, r.db).SelectContext(ctx, &tokens, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active tokens for user %s: %w", userID, err)
	}

	return tokens, nil
}

func (r *refreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	n, err := r.execCount(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired tokens: %w", err)
	}

	return n, nil
}

func (r *refreshTokenRepo) execCount(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
