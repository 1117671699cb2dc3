package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/steepleworks/steeple/internal/web/domain"
)

type challengesRepo struct {
	db *sql.DB
}

func (r *challengesRepo) UpsertChallenge(ctx context.Context, c domain.TwoFactorChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO twofactor_challenges (session_id, user_id, secret, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			secret = excluded.secret,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		c.SessionID, c.UserID, c.Secret, c.CreatedAt, c.ExpiresAt)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, sessionID string) (domain.TwoFactorChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, secret, created_at, expires_at
		FROM twofactor_challenges WHERE session_id = ?`, sessionID)

	var c domain.TwoFactorChallenge
	if err := row.Scan(&c.SessionID, &c.UserID, &c.Secret, &c.CreatedAt, &c.ExpiresAt); err != nil {
		return domain.TwoFactorChallenge{}, mapNotFound(err)
	}
	return c, nil
}

func (r *challengesRepo) DeleteChallenge(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM twofactor_challenges WHERE session_id = ?`, sessionID)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM twofactor_challenges WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
