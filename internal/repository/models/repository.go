package models

import (
	"context"
	"time"
)

// UserStore persists user identities. Lookups that miss return repository.ErrNotFound.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, hashedPassword string) error
	IncrementTokenVersion(ctx context.Context, id string) (int, error)
}

// RefreshTokenStore persists hashed refresh tokens and their rotation families.
// Records are revoked, never deleted, until DeleteExpired sweeps them.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	// Rotate revokes oldID and inserts next atomically. It fails with
	// repository.ErrAlreadyRevoked, persisting nothing, if oldID was no longer live.
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	ListActiveForUser(ctx context.Context, userID string) ([]*RefreshToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Transactor runs fn so that every store call made with the ctx it receives
// commits or rolls back together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
