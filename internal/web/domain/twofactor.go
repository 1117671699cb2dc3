package domain

import "time"

// TwoFactorChallenge is the ephemeral enrollment artifact, keyed by the
// session that started it. It holds the candidate TOTP secret until the user
// proves possession by submitting a valid code, at which point two-factor is
// enabled on the account and the challenge is deleted. A challenge either
// exists (pending) or it does not; there is no other state.
type TwoFactorChallenge struct {
	SessionID string // key: one pending challenge per session
	UserID    string
	Secret    string // base32 TOTP secret, not yet trusted
	CreatedAt time.Time
	ExpiresAt time.Time
}

// EnrollResponse is returned when enrollment begins.
type EnrollResponse struct {
	Secret  string `json:"secret"`   // base32 secret for manual entry
	QRCode  string `json:"qr_code"`  // otpauth:// URL for QR rendering
	Issuer  string `json:"issuer"`   // service name shown in authenticator apps
	Account string `json:"account"`  // account label
}

// User is the slice of the user store this pipeline consumes: identity plus
// two-factor enrollment state. Profile data lives elsewhere.
type User struct {
	ID               string
	Username         string
	TwoFactorEnabled *time.Time // when two-factor was enabled, nil if not enrolled
	TwoFactorSecret  *string    // base32 TOTP secret, nil if not enrolled
	CreatedAt        time.Time
}

// HasTwoFactor reports whether the account has completed two-factor
// enrollment.
func (u User) HasTwoFactor() bool {
	return u.TwoFactorEnabled != nil && u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}
