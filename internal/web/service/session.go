package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
	"github.com/steepleworks/steeple/pkg/cryptox"
	"github.com/steepleworks/steeple/pkg/idx"
)

var (
	// ErrNoSession covers a missing, revoked or expired session credential.
	// Callers treat all three identically: the request is unauthenticated.
	ErrNoSession = errors.New("no active session")
)

// SessionService is the server half of session lifecycle management.
type SessionService struct {
	Store store.Store

	// TTL is the sliding inactivity budget; every refresh pushes expiry
	// this far into the future.
	TTL time.Duration
}

// Create mints a new session for a user. The raw credential is returned
// exactly once; only its fingerprint is stored. Called by the login
// exchange, which is an external collaborator.
func (s *SessionService) Create(ctx context.Context, userID, device string) (domain.Session, string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, "", fmt.Errorf("failed to mint session credential: %w", err)
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:             idx.New().String(),
		UserID:         userID,
		TokenHash:      cryptox.FingerprintToken(token),
		Device:         device,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.TTL),
	}

	if err := s.Store.Sessions().CreateSession(ctx, session); err != nil {
		return domain.Session{}, "", fmt.Errorf("failed to store session: %w", err)
	}
	return session, token, nil
}

// Authenticate resolves a raw credential to its active session. A missing,
// revoked or expired session is ErrNoSession; anything else is a store
// failure the caller must treat as fail-closed.
func (s *SessionService) Authenticate(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, ErrNoSession
	}

	session, err := s.Store.Sessions().GetSessionByTokenHash(ctx, cryptox.FingerprintToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrNoSession
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("session lookup failed: %w", err)
	}

	if !session.Active(time.Now().UTC()) {
		return domain.Session{}, ErrNoSession
	}
	return session, nil
}

// Refresh bumps last-activity and slides the expiry window forward.
func (s *SessionService) Refresh(ctx context.Context, session domain.Session) (domain.Session, error) {
	now := time.Now().UTC()
	expires := now.Add(s.TTL)

	if err := s.Store.Sessions().TouchSession(ctx, session.ID, now, expires); err != nil {
		return domain.Session{}, fmt.Errorf("session refresh failed: %w", err)
	}

	session.LastActivityAt = now
	session.ExpiresAt = expires
	return session, nil
}

// List returns the user's active sessions, most recent activity first,
// marking which one is making the call.
func (s *SessionService) List(ctx context.Context, userID, currentID string) ([]domain.SessionInfo, error) {
	sessions, err := s.Store.Sessions().ListUserSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	infos := make([]domain.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, domain.SessionInfo{
			ID:                sess.ID,
			Device:            sess.Device,
			CreatedAt:         sess.CreatedAt,
			LastActivityAt:    sess.LastActivityAt,
			ExpiresAt:         sess.ExpiresAt,
			Current:           sess.ID == currentID,
			TwoFactorVerified: sess.TwoFactorVerified(),
		})
	}
	return infos, nil
}

// RevokeOthers revokes every other session of the user. The current session
// is excluded inside the store's single-statement update, so it can never
// revoke itself. Idempotent.
func (s *SessionService) RevokeOthers(ctx context.Context, userID, currentID string) (int64, error) {
	n, err := s.Store.Sessions().RevokeOtherSessions(ctx, userID, currentID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return n, nil
}

// Revoke ends a single session (sign-out).
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	err := s.Store.Sessions().RevokeSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil // already gone; sign-out is idempotent
	}
	return err
}

// MarkTwoFactorVerified records step-up success and rotates the session
// credential (privilege just changed; a pre-verification credential must
// not survive it). Returns the replacement raw credential for the cookie.
func (s *SessionService) MarkTwoFactorVerified(ctx context.Context, sessionID string) (string, error) {
	if err := s.Store.Sessions().MarkTwoFactorVerified(ctx, sessionID, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to mark session verified: %w", err)
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("failed to mint replacement credential: %w", err)
	}
	if err := s.Store.Sessions().RotateSessionToken(ctx, sessionID, cryptox.FingerprintToken(token)); err != nil {
		return "", fmt.Errorf("failed to rotate session credential: %w", err)
	}
	return token, nil
}

// CleanupExpired removes every session past its expiry. Safe to run
// concurrently with logins and refreshes: expiry is monotonic, so the worst
// case is a session removed one sweep later.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.Store.Sessions().DeleteExpiredSessions(ctx)
}
