package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/steepleworks/steeple/internal/web/domain"
)

type usersRepo struct {
	db *sql.DB
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, twofactor_enabled, twofactor_secret, created_at
		FROM users WHERE id = ?`, id)

	var u domain.User
	var enabled sql.NullTime
	var secret sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &enabled, &secret, &u.CreatedAt); err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.TwoFactorEnabled = mapNullTimePtr(enabled)
	u.TwoFactorSecret = mapNullStringPtr(secret)
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, twofactor_enabled, twofactor_secret, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, mapOptionalTime(u.TwoFactorEnabled),
		mapOptionalString(u.TwoFactorSecret), u.CreatedAt)
	return err
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, userID, secret string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET twofactor_enabled = ?, twofactor_secret = ?
		WHERE id = ?`, time.Now().UTC(), secret, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET twofactor_enabled = NULL, twofactor_secret = NULL
		WHERE id = ?`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}
