package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type backupCodesRepo struct {
	rdb *redis.Client
}

func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keyBackupCodes+userID)
	if len(codeHashes) > 0 {
		members := make([]any, len(codeHashes))
		for i, h := range codeHashes {
			members[i] = h
		}
		pipe.SAdd(ctx, keyBackupCodes+userID, members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	// SREM is the compare-and-swap: it reports how many members were
	// actually removed, so concurrent submissions of one code yield exactly
	// one success.
	n, err := r.rdb.SRem(ctx, keyBackupCodes+userID, codeHash).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, keyBackupCodes+userID).Err()
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	n, err := r.rdb.SCard(ctx, keyBackupCodes+userID).Result()
	return int(n), err
}
