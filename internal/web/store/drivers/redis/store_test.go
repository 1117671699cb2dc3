package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/steepleworks/steeple/internal/web/domain"
	"github.com/steepleworks/steeple/internal/web/store"
	"github.com/steepleworks/steeple/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	st := NewStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newSession(userID string, ttl time.Duration) domain.Session {
	now := time.Now().UTC()
	return domain.Session{
		ID:             idx.New().String(),
		UserID:         userID,
		TokenHash:      "hash-" + idx.New().String(),
		Device:         "test device",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestRedisUsers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	user := domain.User{
		ID:        idx.New().String(),
		Username:  "alice",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Users().CreateUser(ctx, user))

	got, err := st.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, user.Username, got.Username)
	require.False(t, got.HasTwoFactor())

	_, err = st.Users().GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	t.Run("enable and disable two-factor", func(t *testing.T) {
		require.NoError(t, st.Users().EnableTwoFactor(ctx, user.ID, "JBSWY3DPEHPK3PXP"))

		got, err := st.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, got.HasTwoFactor())
		require.Equal(t, "JBSWY3DPEHPK3PXP", *got.TwoFactorSecret)

		require.NoError(t, st.Users().DisableTwoFactor(ctx, user.ID))

		got, err = st.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.False(t, got.HasTwoFactor())
	})
}

func TestRedisSessionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	session := newSession("user-1", time.Hour)
	require.NoError(t, st.Sessions().CreateSession(ctx, session))

	byToken, err := st.Sessions().GetSessionByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	require.Equal(t, session.ID, byToken.ID)
	require.WithinDuration(t, session.ExpiresAt, byToken.ExpiresAt, time.Millisecond)

	_, err = st.Sessions().GetSessionByTokenHash(ctx, "unknown-hash")
	require.ErrorIs(t, err, store.ErrNotFound)

	t.Run("touch slides expiry", func(t *testing.T) {
		later := time.Now().UTC().Add(2 * time.Hour)
		require.NoError(t, st.Sessions().TouchSession(ctx, session.ID, time.Now().UTC(), later))

		got, err := st.Sessions().GetSessionByID(ctx, session.ID)
		require.NoError(t, err)
		require.WithinDuration(t, later, got.ExpiresAt, time.Millisecond)
	})

	t.Run("rotate swaps the token mapping", func(t *testing.T) {
		require.NoError(t, st.Sessions().RotateSessionToken(ctx, session.ID, "new-hash"))

		_, err := st.Sessions().GetSessionByTokenHash(ctx, session.TokenHash)
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := st.Sessions().GetSessionByTokenHash(ctx, "new-hash")
		require.NoError(t, err)
		require.Equal(t, session.ID, got.ID)
	})

	t.Run("revoked session rejects writes", func(t *testing.T) {
		require.NoError(t, st.Sessions().RevokeSession(ctx, session.ID))

		err := st.Sessions().TouchSession(ctx, session.ID, time.Now().UTC(), time.Now().UTC().Add(time.Hour))
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRedisRevokeOtherSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	current := newSession("user-1", time.Hour)
	other1 := newSession("user-1", time.Hour)
	other2 := newSession("user-1", time.Hour)
	foreign := newSession("user-2", time.Hour)

	for _, s := range []domain.Session{current, other1, other2, foreign} {
		require.NoError(t, st.Sessions().CreateSession(ctx, s))
	}

	n, err := st.Sessions().RevokeOtherSessions(ctx, "user-1", current.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := st.Sessions().GetSessionByID(ctx, current.ID)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt, "current session must survive")

	for _, id := range []string{other1.ID, other2.ID} {
		got, err := st.Sessions().GetSessionByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
	}

	got, err = st.Sessions().GetSessionByID(ctx, foreign.ID)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt, "other users are untouched")

	t.Run("idempotent", func(t *testing.T) {
		n, err := st.Sessions().RevokeOtherSessions(ctx, "user-1", current.ID)
		require.NoError(t, err)
		require.EqualValues(t, 0, n)
	})
}

func TestRedisListUserSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	older := newSession("user-1", time.Hour)
	older.LastActivityAt = older.LastActivityAt.Add(-time.Minute)
	newer := newSession("user-1", time.Hour)
	revoked := newSession("user-1", time.Hour)

	for _, s := range []domain.Session{older, newer, revoked} {
		require.NoError(t, st.Sessions().CreateSession(ctx, s))
	}
	require.NoError(t, st.Sessions().RevokeSession(ctx, revoked.ID))

	sessions, err := st.Sessions().ListUserSessions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, newer.ID, sessions[0].ID, "most recent activity first")
	require.Equal(t, older.ID, sessions[1].ID)
}

func TestRedisDeleteExpiredSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	stale := newSession("user-1", -time.Minute)
	fresh := newSession("user-1", time.Hour)
	require.NoError(t, st.Sessions().CreateSession(ctx, stale))
	require.NoError(t, st.Sessions().CreateSession(ctx, fresh))

	n, err := st.Sessions().DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = st.Sessions().GetSessionByID(ctx, stale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Sessions().GetSessionByTokenHash(ctx, stale.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.Sessions().GetSessionByID(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestRedisChallenges(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	now := time.Now().UTC()
	challenge := domain.TwoFactorChallenge{
		SessionID: "sess-1",
		UserID:    "user-1",
		Secret:    "JBSWY3DPEHPK3PXP",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	require.NoError(t, st.Challenges().UpsertChallenge(ctx, challenge))

	got, err := st.Challenges().GetChallenge(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, challenge.Secret, got.Secret)

	t.Run("upsert replaces", func(t *testing.T) {
		challenge.Secret = "NBSWY3DPEHPK3PXP"
		require.NoError(t, st.Challenges().UpsertChallenge(ctx, challenge))

		got, err := st.Challenges().GetChallenge(ctx, "sess-1")
		require.NoError(t, err)
		require.Equal(t, "NBSWY3DPEHPK3PXP", got.Secret)
	})

	t.Run("expired sweep", func(t *testing.T) {
		expired := challenge
		expired.SessionID = "sess-2"
		expired.ExpiresAt = now.Add(-time.Minute)
		require.NoError(t, st.Challenges().UpsertChallenge(ctx, expired))

		n, err := st.Challenges().DeleteExpiredChallenges(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		_, err = st.Challenges().GetChallenge(ctx, "sess-2")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.Challenges().GetChallenge(ctx, "sess-1")
		require.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.Challenges().DeleteChallenge(ctx, "sess-1"))
		_, err := st.Challenges().GetChallenge(ctx, "sess-1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRedisBackupCodes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	hashes := []string{"h1", "h2", "h3"}
	require.NoError(t, st.BackupCodes().ReplaceBackupCodes(ctx, "user-1", hashes))

	n, err := st.BackupCodes().CountBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	t.Run("consume is once only", func(t *testing.T) {
		ok, err := st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "h2")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "h2")
		require.NoError(t, err)
		require.False(t, ok)

		n, err := st.BackupCodes().CountBackupCodes(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})

	t.Run("replace drops old codes", func(t *testing.T) {
		require.NoError(t, st.BackupCodes().ReplaceBackupCodes(ctx, "user-1", []string{"n1"}))

		ok, err := st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "h1")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "n1")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, st.BackupCodes().ReplaceBackupCodes(ctx, "user-1", []string{"x1", "x2"}))
		require.NoError(t, st.BackupCodes().DeleteAllBackupCodes(ctx, "user-1"))

		n, err := st.BackupCodes().CountBackupCodes(ctx, "user-1")
		require.NoError(t, err)
		require.Zero(t, n)
	})
}
