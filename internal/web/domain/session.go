package domain

import "time"

// Session represents one authenticated device/browser context. It is
// created by the login exchange, mutated on activity and step-up
// verification, and destroyed by revocation or the expiry sweep.
type Session struct {
	ID        string // ULID
	UserID    string
	TokenHash string // deterministic fingerprint of the opaque session credential
	Device    string // user-agent descriptor captured at login

	TwoFactorVerifiedAt *time.Time // nil until step-up verification succeeds

	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
}

// Active reports whether the session is usable at t.
func (s Session) Active(t time.Time) bool {
	return s.RevokedAt == nil && t.Before(s.ExpiresAt)
}

// TwoFactorVerified reports whether step-up verification has completed for
// this session. The flag is scoped to the session's lifetime; it never
// reverts except by starting a new session.
func (s Session) TwoFactorVerified() bool {
	return s.TwoFactorVerifiedAt != nil
}

// SessionInfo is the list-sessions response shape.
type SessionInfo struct {
	ID                string    `json:"id"`
	Device            string    `json:"device"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Current           bool      `json:"current"`
	TwoFactorVerified bool      `json:"two_factor_verified"`
}
