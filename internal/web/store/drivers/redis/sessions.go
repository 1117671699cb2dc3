package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
)

type sessionsRepo struct {
	rdb *redis.Client
}

// revokeOthersScript marks every active session of a user revoked except the
// current one, atomically, and returns the count. KEYS[1] is the user's
// session set; ARGV[1] the current session id, ARGV[2] the revocation
// timestamp.
const revokeOthersScript = `
local revoked = 0
for _, sid in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  if sid ~= ARGV[1] then
    local key = "session:" .. sid
    local cur = redis.call("HGET", key, "revoked_at")
    if cur == false or cur == "" then
      redis.call("HSET", key, "revoked_at", ARGV[2])
      revoked = revoked + 1
    end
  end
end
return revoked
`

var revokeOthersLua = redis.NewScript(revokeOthersScript)

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keySessionPrefix+s.ID, sessionFields(s))
	pipe.Set(ctx, keyTokenPrefix+s.TokenHash, s.ID, 0)
	pipe.SAdd(ctx, keyUserSessions+s.UserID, s.ID)
	pipe.SAdd(ctx, keySessionIndex, s.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	id, err := r.rdb.Get(ctx, keyTokenPrefix+hash).Result()
	if err != nil {
		return domain.Session{}, mapNil(err)
	}
	return r.GetSessionByID(ctx, id)
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, keySessionPrefix+id).Result()
	if err != nil {
		return domain.Session{}, err
	}
	if len(fields) == 0 {
		return domain.Session{}, store.ErrNotFound
	}
	return sessionFromFields(id, fields)
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	if err := r.requireActive(ctx, id); err != nil {
		return err
	}
	return r.rdb.HSet(ctx, keySessionPrefix+id, map[string]any{
		"last_activity_at": formatTime(lastActivity),
		"expires_at":       formatTime(expiresAt),
	}).Err()
}

func (r *sessionsRepo) RotateSessionToken(ctx context.Context, id string, newHash string) error {
	s, err := r.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	if s.RevokedAt != nil {
		return store.ErrNotFound
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keyTokenPrefix+s.TokenHash)
	pipe.Set(ctx, keyTokenPrefix+newHash, id, 0)
	pipe.HSet(ctx, keySessionPrefix+id, "token_hash", newHash)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *sessionsRepo) MarkTwoFactorVerified(ctx context.Context, id string, at time.Time) error {
	if err := r.requireActive(ctx, id); err != nil {
		return err
	}
	return r.rdb.HSet(ctx, keySessionPrefix+id,
		"twofactor_verified_at", formatTime(at)).Err()
}

func (r *sessionsRepo) ListUserSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	ids, err := r.rdb.SMembers(ctx, keyUserSessions+userID).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSessionByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue // swept between SMEMBERS and HGETALL
		}
		if err != nil {
			return nil, err
		}
		if s.RevokedAt != nil {
			continue
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivityAt.After(sessions[j].LastActivityAt)
	})
	return sessions, nil
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string) error {
	if err := r.requireActive(ctx, id); err != nil {
		return err
	}
	return r.rdb.HSet(ctx, keySessionPrefix+id,
		"revoked_at", formatTime(nowUTC())).Err()
}

func (r *sessionsRepo) RevokeOtherSessions(ctx context.Context, userID, currentID string) (int64, error) {
	return revokeOthersLua.Run(ctx, r.rdb,
		[]string{keyUserSessions + userID},
		currentID, formatTime(nowUTC())).Int64()
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	ids, err := r.rdb.SMembers(ctx, keySessionIndex).Result()
	if err != nil {
		return 0, err
	}

	now := nowUTC()
	var removed int64
	for _, id := range ids {
		s, err := r.GetSessionByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			_ = r.rdb.SRem(ctx, keySessionIndex, id).Err()
			continue
		}
		if err != nil {
			return removed, err
		}
		if s.ExpiresAt.After(now) {
			continue
		}

		pipe := r.rdb.TxPipeline()
		pipe.Del(ctx, keySessionPrefix+id)
		pipe.Del(ctx, keyTokenPrefix+s.TokenHash)
		pipe.SRem(ctx, keyUserSessions+s.UserID, id)
		pipe.SRem(ctx, keySessionIndex, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// requireActive loads a session and rejects missing or revoked ones.
func (r *sessionsRepo) requireActive(ctx context.Context, id string) error {
	s, err := r.GetSessionByID(ctx, id)
	if err != nil {
		return err
	}
	if s.RevokedAt != nil {
		return store.ErrNotFound
	}
	return nil
}

func sessionFields(s domain.Session) map[string]any {
	return map[string]any{
		"user_id":               s.UserID,
		"token_hash":            s.TokenHash,
		"device":                s.Device,
		"twofactor_verified_at": formatTimePtr(s.TwoFactorVerifiedAt),
		"created_at":            formatTime(s.CreatedAt),
		"last_activity_at":      formatTime(s.LastActivityAt),
		"expires_at":            formatTime(s.ExpiresAt),
		"revoked_at":            formatTimePtr(s.RevokedAt),
	}
}

func sessionFromFields(id string, fields map[string]string) (domain.Session, error) {
	s := domain.Session{
		ID:        id,
		UserID:    fields["user_id"],
		TokenHash: fields["token_hash"],
		Device:    fields["device"],
	}

	var err error
	if s.TwoFactorVerifiedAt, err = parseTimePtr(fields["twofactor_verified_at"]); err != nil {
		return domain.Session{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if s.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return domain.Session{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if s.LastActivityAt, err = parseTime(fields["last_activity_at"]); err != nil {
		return domain.Session{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if s.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		return domain.Session{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if s.RevokedAt, err = parseTimePtr(fields["revoked_at"]); err != nil {
		return domain.Session{}, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return s, nil
}
