package sqlite

import (
	"context"
	"database/sql"
	"time"
)

type backupCodesRepo struct {
	db *sql.DB
}

func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ?`, userID); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backup_codes (user_id, code_hash, created_at)
			VALUES (?, ?, ?)`, userID, hash, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	// Delete-and-count is the compare-and-swap: two concurrent submissions
	// of the same code race on this statement and exactly one wins.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`,
		userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}
