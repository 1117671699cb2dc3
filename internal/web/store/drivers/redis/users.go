package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
)

type usersRepo struct {
	rdb *redis.Client
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	fields, err := r.rdb.HGetAll(ctx, keyUserPrefix+id).Result()
	if err != nil {
		return domain.User{}, err
	}
	if len(fields) == 0 {
		return domain.User{}, store.ErrNotFound
	}

	u := domain.User{ID: id, Username: fields["username"]}
	if u.TwoFactorEnabled, err = parseTimePtr(fields["twofactor_enabled"]); err != nil {
		return domain.User{}, fmt.Errorf("corrupt twofactor_enabled for user %s: %w", id, err)
	}
	if secret := fields["twofactor_secret"]; secret != "" {
		u.TwoFactorSecret = &secret
	}
	if u.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return domain.User{}, fmt.Errorf("corrupt created_at for user %s: %w", id, err)
	}
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	var secret string
	if u.TwoFactorSecret != nil {
		secret = *u.TwoFactorSecret
	}
	return r.rdb.HSet(ctx, keyUserPrefix+u.ID, map[string]any{
		"username":          u.Username,
		"twofactor_enabled": formatTimePtr(u.TwoFactorEnabled),
		"twofactor_secret":  secret,
		"created_at":        formatTime(u.CreatedAt),
	}).Err()
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, userID, secret string) error {
	key := keyUserPrefix + userID
	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return r.rdb.HSet(ctx, key, map[string]any{
		"twofactor_enabled": formatTime(nowUTC()),
		"twofactor_secret":  secret,
	}).Err()
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, userID string) error {
	key := keyUserPrefix + userID
	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return r.rdb.HSet(ctx, key, map[string]any{
		"twofactor_enabled": "",
		"twofactor_secret":  "",
	}).Err()
}
