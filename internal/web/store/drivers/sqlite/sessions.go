package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
)

type sessionsRepo struct {
	db *sql.DB
}

const sessionColumns = `id, user_id, token_hash, device, twofactor_verified_at,
	created_at, last_activity_at, expires_at, revoked_at`

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, s.Device,
		mapOptionalTime(s.TwoFactorVerifiedAt),
		s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
		mapOptionalTime(s.RevokedAt))
	return err
}

func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, hash)
	return scanSession(row)
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = ?, expires_at = ?
		WHERE id = ? AND revoked_at IS NULL`, lastActivity, expiresAt, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) RotateSessionToken(ctx context.Context, id string, newHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET token_hash = ?
		WHERE id = ? AND revoked_at IS NULL`, newHash, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) MarkTwoFactorVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET twofactor_verified_at = ?
		WHERE id = ? AND revoked_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND revoked_at IS NULL
		ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) RevokeOtherSessions(ctx context.Context, userID, currentID string) (int64, error) {
	// Single statement so concurrent revokes stay consistent; the current
	// session is excluded in the predicate, never after the fact.
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?
		WHERE user_id = ? AND id <> ? AND revoked_at IS NULL`,
		time.Now().UTC(), userID, currentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var s domain.Session
	var verified, revoked sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.Device, &verified,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &revoked)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.TwoFactorVerifiedAt = mapNullTimePtr(verified)
	s.RevokedAt = mapNullTimePtr(revoked)
	return s, nil
}

// requireRow maps zero affected rows to ErrNotFound for updates that target
// a single record.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
