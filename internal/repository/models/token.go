package models

import "time"

type RefreshToken struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	FamilyID   string     `db:"family_id" json:"family_id"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	DeviceID   *string    `db:"device_id" json:"device_id,omitempty"`
	DeviceName *string    `db:"device_name" json:"device_name,omitempty"`
	IPAddress  *string    `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the token's lifetime has passed at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsLive reports whether the token can still be exchanged.
func (t *RefreshToken) IsLive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

// DeviceMeta is optional client metadata attached to a refresh token.
type DeviceMeta struct {
	DeviceID   string
	DeviceName string
	IPAddress  string
}

// Apply copies non-empty metadata onto t.
func (m DeviceMeta) Apply(t *RefreshToken) {
	t.DeviceID = optional(m.DeviceID)
	t.DeviceName = optional(m.DeviceName)
	t.IPAddress = optional(m.IPAddress)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
