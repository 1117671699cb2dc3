package store

import (
	"context"
	"errors"
	"time"

	"github.com/steepleworks/steeple/internal/web/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface the security pipeline consumes.
// Concrete drivers (sqlite, redis) implement it. Operations that must be
// atomic under concurrent requests (backup-code consumption, revoking other
// sessions, challenge promotion) are single compare-and-swap style methods
// rather than caller-managed transactions, so every driver can honour the
// consume-once/revoke-once guarantees natively.
type Store interface {
	Users() Users
	Sessions() Sessions
	Challenges() Challenges
	BackupCodes() BackupCodes

	// ApplyMigrations brings the schema up to date. No-op for schemaless
	// drivers.
	ApplyMigrations() error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// Users is the slice of the user store this pipeline needs: two-factor
// enrollment state. Everything else about users is someone else's problem.
type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// EnableTwoFactor sets the trusted TOTP secret and marks two-factor
	// enabled in one step, so a crash can never leave a half-enrolled
	// account.
	EnableTwoFactor(ctx context.Context, userID, secret string) error

	// DisableTwoFactor clears the secret and the enabled marker.
	DisableTwoFactor(ctx context.Context, userID string) error
}

type Sessions interface {
	// CreateSession stores a new session record.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByTokenHash returns the session owning the credential
	// fingerprint, revoked or not; callers decide what expired means.
	GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error)

	// GetSessionByID returns a session by its identifier.
	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// TouchSession bumps last-activity and slides the expiry forward.
	// Last-writer-wins is acceptable: expiry is monotonic and coarse.
	TouchSession(ctx context.Context, id string, lastActivity, expiresAt time.Time) error

	// RotateSessionToken swaps the credential fingerprint for a fresh one.
	RotateSessionToken(ctx context.Context, id string, newHash string) error

	// MarkTwoFactorVerified records successful step-up for this session.
	MarkTwoFactorVerified(ctx context.Context, id string, at time.Time) error

	// ListUserSessions returns all active sessions for a user, most recent
	// activity first.
	ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// RevokeSession revokes a single session.
	RevokeSession(ctx context.Context, id string) error

	// RevokeOtherSessions revokes every active session of the user except
	// currentID in one statement and returns the count revoked. Idempotent:
	// a second call revokes zero.
	RevokeOtherSessions(ctx context.Context, userID, currentID string) (int64, error)

	// DeleteExpiredSessions removes sessions past their expiry and returns
	// the count removed.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

type Challenges interface {
	// UpsertChallenge creates or replaces the pending challenge for a
	// session. Re-enrolling restarts the challenge.
	UpsertChallenge(ctx context.Context, c domain.TwoFactorChallenge) error

	// GetChallenge returns the pending challenge for a session, expired or
	// not; callers check expiry.
	GetChallenge(ctx context.Context, sessionID string) (domain.TwoFactorChallenge, error)

	// DeleteChallenge removes a session's challenge.
	DeleteChallenge(ctx context.Context, sessionID string) error

	// DeleteExpiredChallenges removes stale challenges and returns the count
	// removed.
	DeleteExpiredChallenges(ctx context.Context) (int64, error)
}

type BackupCodes interface {
	// ReplaceBackupCodes atomically swaps a user's backup code fingerprints
	// for a fresh set.
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error

	// ConsumeBackupCode removes the code fingerprint if present and reports
	// whether it was there. The remove-and-report must be a single atomic
	// operation so a code can never be spent twice under concurrent
	// requests.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	// DeleteAllBackupCodes removes every code for a user.
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountBackupCodes returns how many codes the user has left.
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}
