// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/lockbox/internal/auth"
	"github.com/holomush/lockbox/internal/auth/authtest"
	"github.com/holomush/lockbox/internal/auth/redisstore"
	"github.com/holomush/lockbox/pkg/errutil"
)

func newServer(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRepository_Contract(t *testing.T) {
	authtest.RunRepositoryContract(t, func(t *testing.T) auth.CredentialRepository {
		t.Helper()
		_, client := newServer(t)
		return redisstore.NewRepository(client)
	})
}

func newInitialized(t *testing.T, opts ...redisstore.Option) (*miniredis.Miniredis, *redisstore.Repository) {
	t.Helper()
	mr, client := newServer(t)
	repo := redisstore.NewRepository(client, opts...)
	require.NoError(t, repo.Init(context.Background()))
	return mr, repo
}

func TestRepository_KeyLayout(t *testing.T) {
	mr, repo := newInitialized(t, redisstore.WithPrefix("test:"))
	ctx := context.Background()

	rec := authtest.NewRecord("alice")
	require.NoError(t, repo.Create(ctx, rec))

	assert.True(t, mr.Exists("test:cred:alice"))
	assert.Equal(t, "1", mr.HGet("test:cred:alice", "schema"))
	assert.Equal(t, rec.ID.String(), mr.HGet("test:cred:alice", "id"))
	assert.Equal(t, "0", mr.HGet("test:cred:alice", "failed_attempts"))
	assert.Empty(t, mr.HGet("test:cred:alice", "last_attempt_at"))
	assert.False(t, mr.Exists("test:idx:last_attempt"), "clean records are not indexed")

	last := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	_, err := repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
		r.FailedAttempts = 2
		r.LastAttemptAt = &last
		return nil
	})
	require.NoError(t, err)

	members, err := mr.ZMembers("test:idx:last_attempt")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
	score, err := mr.ZScore("test:idx:last_attempt", "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(last.UnixMilli()), score)
	assert.Equal(t, "2026-03-14T09:30:00Z", mr.HGet("test:cred:alice", "last_attempt_at"))

	_, err = repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
		r.FailedAttempts = 0
		r.LastAttemptAt = nil
		return nil
	})
	require.NoError(t, err)
	members, _ = mr.ZMembers("test:idx:last_attempt") //nolint:errcheck // empty set reports ErrKeyNotFound
	assert.Empty(t, members)
}

func TestRepository_SubMillisecondTimesRoundTrip(t *testing.T) {
	_, repo := newInitialized(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, authtest.NewRecord("alice")))

	last := time.Date(2026, 3, 14, 9, 30, 0, 123_456_789, time.UTC)
	_, err := repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
		r.FailedAttempts = 5
		r.LastAttemptAt = &last
		return nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got.LastAttemptAt)
	assert.True(t, last.Equal(*got.LastAttemptAt))

	locked, err := repo.ListLocked(ctx, 5, last)
	require.NoError(t, err)
	require.Len(t, locked, 1, "the index floors to milliseconds but the exact time decides")

	locked, err = repo.ListLocked(ctx, 5, last.Add(time.Nanosecond))
	require.NoError(t, err)
	assert.Empty(t, locked)
}

func TestRepository_UnknownSchemaIsStorageError(t *testing.T) {
	mr, repo := newInitialized(t)
	mr.HSet("lockbox:cred:alice", "schema", "99", "username", "alice")

	_, err := repo.Get(context.Background(), "alice")
	errutil.AssertCodedError(t, err, auth.CodeStorageIO, auth.ErrStorageIO)
	errutil.AssertErrorContext(t, err, "operation", "decode credential")

	_, err = repo.Mutate(context.Background(), "alice", func(*auth.CredentialRecord) error {
		t.Fatal("mutate callback must not see an undecodable record")
		return nil
	})
	assert.ErrorIs(t, err, auth.ErrStorageIO)
}

func TestRepository_ListLockedSkipsStaleIndexEntries(t *testing.T) {
	mr, repo := newInitialized(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	_, err := mr.ZAdd("lockbox:idx:last_attempt", float64(now.UnixMilli()), "ghost")
	require.NoError(t, err)

	got, err := repo.ListLocked(context.Background(), 1, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepository_InitFailsWhenServerIsDown(t *testing.T) {
	mr, client := newServer(t)
	mr.Close()

	repo := redisstore.NewRepository(client)
	err := repo.Init(context.Background())
	errutil.AssertCodedError(t, err, auth.CodeStoreUnavailable, auth.ErrStoreUnavailable)
	errutil.AssertErrorContext(t, err, "backend", "redis")
	assert.Equal(t, auth.KindAvailability, auth.KindOf(err))
}

func TestRepository_ServerLossIsStorageError(t *testing.T) {
	mr, repo := newInitialized(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, authtest.NewRecord("alice")))
	mr.Close()

	_, err := repo.Get(ctx, "alice")
	errutil.AssertCodedError(t, err, auth.CodeStorageIO, auth.ErrStorageIO)

	_, err = repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
		r.FailedAttempts++
		return nil
	})
	errutil.AssertCodedError(t, err, auth.CodeStorageIO, auth.ErrStorageIO)
}

func TestRepository_MutateHonorsCancellation(t *testing.T) {
	_, repo := newInitialized(t)
	require.NoError(t, repo.Create(context.Background(), authtest.NewRecord("alice")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
		r.FailedAttempts++
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, auth.ErrStorageIO)
}
