package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	HashedPassword string     `db:"hashed_password" json:"-"`
	FullName       *string    `db:"full_name" json:"full_name"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	IsVerified     bool       `db:"is_verified" json:"is_verified"`
	Role           string     `db:"role" json:"role"`
	TokenVersion   int        `db:"token_version" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at"`
}
