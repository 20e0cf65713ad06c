package model

import "time"

// AuthUser is a dashboard operator account.
type AuthUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	TOTPSecret   string     `json:"-"`
	TOTPEnabled  bool       `json:"totp_enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// AuthSession is a logged-in device. The cookie carries ID and a secret whose
// hash is stored in TokenHash.
type AuthSession struct {
	ID               string    `json:"id"`
	UserID           string    `json:"-"`
	TokenHash        string    `json:"-"`
	CSRFToken        string    `json:"-"`
	DeviceName       string    `json:"device_name"`
	UserAgent        string    `json:"user_agent,omitempty"`
	IP               string    `json:"ip,omitempty"`
	TwoFactorPending bool      `json:"two_factor_pending"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *AuthSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
