package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
)

func SetupTestUserRepo(t *testing.T) (*userRepo, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := &userRepo{
		db: sqlx.NewDb(db, "postgres"),
		l:  &mockLogger{},
	}

	return repo, mock, func() { db.Close() }
}

const testUserID = "6f1f3e2a-7d9b-4c1e-8a57-3d2b1c0e9f44"

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "hashed_password", "full_name", "is_active", "is_verified", "role",
		"token_version", "created_at", "updated_at",
	}).AddRow(
		testUserID, "alice@example.com", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		"Alice", true, false, models.RoleUser, 2, time.Now(), nil,
	)
}

func TestUserRepo_GetByID(t *testing.T) {
	repo, mock, cleanup := SetupTestUserRepo(t)
	defer cleanup()

	tests := []struct {
		name    string
		id      string
		mockFn  func(sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "found",
			id:   testUserID,
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
					WithArgs(testUserID).
					WillReturnRows(userRows())
			},
		},
		{
			name: "missing",
			id:   testUserID,
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
					WithArgs(testUserID).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "malformed id never reaches the database",
			id:      "not-a-uuid",
			mockFn:  func(m sqlmock.Sqlmock) {},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockFn(mock)

			user, err := repo.GetByID(context.Background(), tt.id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "alice@example.com", user.Email)
				assert.Equal(t, 2, user.TokenVersion)
				require.NotNil(t, user.FullName)
				assert.Equal(t, "Alice", *user.FullName)
				assert.Nil(t, user.UpdatedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepo_GetByEmailNormalizes(t *testing.T) {
	repo, mock, cleanup := SetupTestUserRepo(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(userRows())

	user, err := repo.GetByEmail(context.Background(), "  Alice@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, testUserID, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create(t *testing.T) {
	repo, mock, cleanup := SetupTestUserRepo(t)
	defer cleanup()

	tests := []struct {
		name    string
		mockFn  func(sqlmock.Sqlmock)
		wantErr error
		errMsg  string
	}{
		{
			name: "created",
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`INSERT INTO users`).
					WithArgs(sqlmock.AnyArg(), "bob@example.com", "hash", "Bob", true, false, models.RoleUser).
					WillReturnRows(sqlmock.NewRows([]string{"token_version", "created_at"}).AddRow(0, time.Now()))
			},
		},
		{
			name: "duplicate email",
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`INSERT INTO users`).
					WillReturnError(&pq.Error{Code: pgUniqueViolation})
			},
			wantErr: ErrDuplicateEmail,
		},
		{
			name: "database error",
			mockFn: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`INSERT INTO users`).
					WillReturnError(fmt.Errorf("connection reset"))
			},
			errMsg: "failed to insert user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockFn(mock)

			name := "Bob"
			user := &models.User{
				Email:          "Bob@Example.com",
				HashedPassword: "hash",
				FullName:       &name,
				IsActive:       true,
			}
			err := repo.Create(context.Background(), user)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			default:
				require.NoError(t, err)
				assert.NotEmpty(t, user.ID)
				assert.Equal(t, "bob@example.com", user.Email)
				assert.Equal(t, models.RoleUser, user.Role)
				assert.NotZero(t, user.CreatedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepo_UpdatePassword(t *testing.T) {
	repo, mock, cleanup := SetupTestUserRepo(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE users SET hashed_password = \$2`).
		WithArgs(testUserID, "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdatePassword(context.Background(), testUserID, "new-hash"))

	mock.ExpectExec(`UPDATE users SET hashed_password = \$2`).
		WithArgs(testUserID, "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdatePassword(context.Background(), testUserID, "new-hash"), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_IncrementTokenVersion(t *testing.T) {
	repo, mock, cleanup := SetupTestUserRepo(t)
	defer cleanup()

	mock.ExpectQuery(`SET token_version = token_version \+ 1`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(3))

	v, err := repo.IncrementTokenVersion(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	mock.ExpectQuery(`SET token_version = token_version \+ 1`).
		WithArgs(testUserID).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.IncrementTokenVersion(context.Background(), testUserID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	repo, mock, cleanup := SetupTestUserRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SET token_version = token_version \+ 1`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(1))
	mock.ExpectRollback()

	boom := fmt.Errorf("boom")
	err := NewTransactor(repo.db).InTx(context.Background(), func(ctx context.Context) error {
		if _, err := repo.IncrementTokenVersion(ctx, testUserID); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
