package httpapi

import (
	"time"

	"github.com/AtoyanMikhail/sessionauth/internal/repository/models"
	"github.com/AtoyanMikhail/sessionauth/internal/service"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name" validate:"omitempty,max=255"`
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email,max=320"`
	Password   string `json:"password" validate:"required"`
	DeviceID   string `json:"device_id" validate:"omitempty,max=255"`
	DeviceName string `json:"device_name" validate:"omitempty,max=255"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type userResponse struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FullName   *string    `json:"full_name"`
	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	Role       string     `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Role:       u.Role,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// The refresh token travels only in its cookie, never in a body.
type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type logoutAllResponse struct {
	RevokedSessions int64 `json:"revoked_sessions"`
}

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceID   *string   `json:"device_id"`
	DeviceName *string   `json:"device_name"`
	IPAddress  *string   `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

func toSessionResponses(views []service.SessionView) []sessionResponse {
	out := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, sessionResponse(v))
	}
	return out
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
