// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest holds behavior tests shared by every CredentialRepository
// implementation.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/lockbox/internal/auth"
	"github.com/holomush/lockbox/pkg/errutil"
)

// Factory returns a fresh, uninitialized repository. Each call must return
// an empty store.
type Factory func(t *testing.T) auth.CredentialRepository

// baseTime is millisecond aligned so every backend round-trips it exactly.
var baseTime = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

// NewRecord builds a record with a fixed hash for username.
func NewRecord(username string) *auth.CredentialRecord {
	return &auth.CredentialRecord{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5",
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
}

func initialized(t *testing.T, newRepo Factory) auth.CredentialRepository {
	t.Helper()
	repo := newRepo(t)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

// RunRepositoryContract runs the shared behavior tests against newRepo.
func RunRepositoryContract(t *testing.T, newRepo Factory) {
	t.Run("operations before init are unavailable", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Get(ctx, "alice")
		errutil.AssertCodedError(t, err, auth.CodeStoreUnavailable, auth.ErrStoreUnavailable)
		err = repo.Create(ctx, NewRecord("alice"))
		errutil.AssertCodedError(t, err, auth.CodeStoreUnavailable, auth.ErrStoreUnavailable)
		err = repo.Update(ctx, NewRecord("alice"))
		assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
		_, err = repo.Mutate(ctx, "alice", func(*auth.CredentialRecord) error { return nil })
		assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
		_, err = repo.ListLocked(ctx, 1, baseTime)
		assert.ErrorIs(t, err, auth.ErrStoreUnavailable)
	})

	t.Run("init is idempotent", func(t *testing.T) {
		repo := initialized(t, newRepo)
		require.NoError(t, repo.Init(context.Background()))
	})

	t.Run("get of absent username is nil without error", func(t *testing.T) {
		repo := initialized(t, newRepo)
		rec, err := repo.Get(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("create then get round-trips", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		want := NewRecord("alice")
		require.NoError(t, repo.Create(ctx, want))

		got, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, want.PasswordHash, got.PasswordHash)
		assert.Zero(t, got.FailedAttempts)
		assert.Nil(t, got.LastAttemptAt)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("usernames are case sensitive", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))
		require.NoError(t, repo.Create(ctx, NewRecord("Alice")))

		got, err := repo.Get(ctx, "ALICE")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))

		err := repo.Create(ctx, NewRecord("alice"))
		errutil.AssertCodedError(t, err, auth.CodeDuplicateUsername, auth.ErrDuplicateUsername)
	})

	t.Run("update replaces record", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		rec := NewRecord("alice")
		require.NoError(t, repo.Create(ctx, rec))

		last := baseTime.Add(time.Minute)
		rec.FailedAttempts = 3
		rec.LastAttemptAt = &last
		rec.PasswordHash = "$argon2id$v=19$m=1024,t=2,p=1$c2FsdHNhbHQ$bmV3a2V5"
		require.NoError(t, repo.Update(ctx, rec))

		got, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(3), got.FailedAttempts)
		require.NotNil(t, got.LastAttemptAt)
		assert.True(t, last.Equal(*got.LastAttemptAt))
		assert.Equal(t, rec.PasswordHash, got.PasswordHash)
	})

	t.Run("update of absent username fails", func(t *testing.T) {
		repo := initialized(t, newRepo)
		err := repo.Update(context.Background(), NewRecord("ghost"))
		errutil.AssertCodedError(t, err, auth.CodeRecordNotFound, auth.ErrRecordNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))

		got, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		got.FailedAttempts = 99

		again, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, again.FailedAttempts)
	})

	t.Run("mutate writes the edited record", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))

		last := baseTime.Add(2 * time.Minute)
		out, err := repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
			r.FailedAttempts++
			r.LastAttemptAt = &last
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(1), out.FailedAttempts)

		got, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(1), got.FailedAttempts)
		require.NotNil(t, got.LastAttemptAt)
		assert.True(t, last.Equal(*got.LastAttemptAt))

		_, err = repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
			r.FailedAttempts = 0
			r.LastAttemptAt = nil
			return nil
		})
		require.NoError(t, err)
		got, err = repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, got.FailedAttempts)
		assert.Nil(t, got.LastAttemptAt)
	})

	t.Run("mutate error aborts the write", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))

		errStop := errors.New("stop")
		_, err := repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
			r.FailedAttempts = 42
			return errStop
		})
		assert.ErrorIs(t, err, errStop)

		got, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, got.FailedAttempts)
	})

	t.Run("mutate of absent username fails", func(t *testing.T) {
		repo := initialized(t, newRepo)
		called := false
		_, err := repo.Mutate(context.Background(), "ghost", func(*auth.CredentialRecord) error {
			called = true
			return nil
		})
		errutil.AssertCodedError(t, err, auth.CodeRecordNotFound, auth.ErrRecordNotFound)
		assert.False(t, called)
	})

	t.Run("concurrent mutations of one username serialize", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Mutate(ctx, "alice", func(r *auth.CredentialRecord) error {
					r.FailedAttempts++
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := repo.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, uint32(writers), got.FailedAttempts)
	})

	t.Run("concurrent creates of one username admit exactly one", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()

		const writers = 10
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- repo.Create(ctx, NewRecord("carol"))
			}()
		}
		wg.Wait()
		close(results)

		var created, duplicates int
		for err := range results {
			switch {
			case err == nil:
				created++
			case errors.Is(err, auth.ErrDuplicateUsername):
				duplicates++
			default:
				t.Fatalf("unexpected create error: %v", err)
			}
		}
		assert.Equal(t, 1, created)
		assert.Equal(t, writers-1, duplicates)
	})

	t.Run("different usernames do not block each other", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, NewRecord("alice")))
		require.NoError(t, repo.Create(ctx, NewRecord("bob")))

		inside := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := repo.Mutate(ctx, "alice", func(*auth.CredentialRecord) error {
				close(inside)
				<-release
				return nil
			})
			done <- err
		}()
		<-inside

		_, err := repo.Mutate(ctx, "bob", func(r *auth.CredentialRecord) error {
			r.FailedAttempts = 1
			return nil
		})
		close(release)
		require.NoError(t, err)
		require.NoError(t, <-done)
	})

	t.Run("list locked filters by attempts and time", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()

		seed := func(name string, attempts uint32, last *time.Time) {
			rec := NewRecord(name)
			rec.FailedAttempts = attempts
			rec.LastAttemptAt = last
			require.NoError(t, repo.Create(ctx, rec))
		}
		recent := baseTime.Add(-time.Minute)
		old := baseTime.Add(-time.Hour)
		seed("zed", 6, &recent)
		seed("amy", 5, &recent)
		seed("bea", 4, &recent)
		seed("cal", 9, &old)
		seed("dan", 0, nil)

		got, err := repo.ListLocked(ctx, 5, baseTime.Add(-15*time.Minute))
		require.NoError(t, err)
		names := make([]string, 0, len(got))
		for _, rec := range got {
			names = append(names, rec.Username)
		}
		assert.Equal(t, []string{"amy", "zed"}, names)
	})

	t.Run("many usernames", func(t *testing.T) {
		repo := initialized(t, newRepo)
		ctx := context.Background()
		for i := range 25 {
			require.NoError(t, repo.Create(ctx, NewRecord(fmt.Sprintf("user%02d", i))))
		}
		for i := range 25 {
			got, err := repo.Get(ctx, fmt.Sprintf("user%02d", i))
			require.NoError(t, err)
			assert.NotNil(t, got)
		}
	})
}
