// Package redis implements the security-pipeline store on Redis. Sessions,
// challenges and users live in hashes with secondary index sets; backup
// codes live in per-user sets so consumption maps onto SREM, which is
// naturally consume-once.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/steepleworks/steeple/internal/web/store"
)

// Key layout.
const (
	keyUserPrefix      = "user:"
	keySessionPrefix   = "session:"
	keyTokenPrefix     = "session_token:"
	keyUserSessions    = "user_sessions:"
	keySessionIndex    = "sessions:all"
	keyChallengePrefix = "challenge:"
	keyChallengeIndex  = "challenges:all"
	keyBackupCodes     = "backup_codes:"
)

type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// ApplyMigrations is a no-op: Redis is schemaless.
func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Users() store.Users             { return &usersRepo{rdb: s.rdb} }
func (s *Store) Sessions() store.Sessions       { return &sessionsRepo{rdb: s.rdb} }
func (s *Store) Challenges() store.Challenges   { return &challengesRepo{rdb: s.rdb} }
func (s *Store) BackupCodes() store.BackupCodes { return &backupCodesRepo{rdb: s.rdb} }

func mapNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return err
}

func nowUTC() time.Time { return time.Now().UTC() }

// Timestamps are stored as RFC3339Nano strings; the empty string is nil.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
