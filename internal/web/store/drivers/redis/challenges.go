package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
)

type challengesRepo struct {
	rdb *redis.Client
}

func (r *challengesRepo) UpsertChallenge(ctx context.Context, c domain.TwoFactorChallenge) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keyChallengePrefix+c.SessionID, map[string]any{
		"user_id":    c.UserID,
		"secret":     c.Secret,
		"created_at": formatTime(c.CreatedAt),
		"expires_at": formatTime(c.ExpiresAt),
	})
	pipe.SAdd(ctx, keyChallengeIndex, c.SessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, sessionID string) (domain.TwoFactorChallenge, error) {
	fields, err := r.rdb.HGetAll(ctx, keyChallengePrefix+sessionID).Result()
	if err != nil {
		return domain.TwoFactorChallenge{}, err
	}
	if len(fields) == 0 {
		return domain.TwoFactorChallenge{}, store.ErrNotFound
	}

	c := domain.TwoFactorChallenge{
		SessionID: sessionID,
		UserID:    fields["user_id"],
		Secret:    fields["secret"],
	}
	if c.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return domain.TwoFactorChallenge{}, fmt.Errorf("corrupt challenge %s: %w", sessionID, err)
	}
	if c.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return domain.TwoFactorChallenge{}, fmt.Errorf("corrupt challenge %s: %w", sessionID, err)
	}
	return c, nil
}

func (r *challengesRepo) DeleteChallenge(ctx context.Context, sessionID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keyChallengePrefix+sessionID)
	pipe.SRem(ctx, keyChallengeIndex, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	ids, err := r.rdb.SMembers(ctx, keyChallengeIndex).Result()
	if err != nil {
		return 0, err
	}

	now := nowUTC()
	var removed int64
	for _, id := range ids {
		c, err := r.GetChallenge(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			_ = r.rdb.SRem(ctx, keyChallengeIndex, id).Err()
			continue
		}
		if err != nil {
			return removed, err
		}
		if c.ExpiresAt.After(now) {
			continue
		}
		if err := r.DeleteChallenge(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
