// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore stores credentials in Redis hashes and serializes
// writers of one username with WATCH/MULTI/EXEC.
package redisstore

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/lockbox/internal/auth"
)

const backendName = "redis"

// DefaultPrefix namespaces every key the repository writes.
const DefaultPrefix = "lockbox:"

// schemaVersion is stored in every hash so the layout can evolve.
const schemaVersion = "1"

const (
	fieldSchema         = "schema"
	fieldID             = "id"
	fieldUsername       = "username"
	fieldPasswordHash   = "password_hash"
	fieldFailedAttempts = "failed_attempts"
	fieldLastAttemptAt  = "last_attempt_at"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

const (
	defaultCASAttempts = 100
	casBackoff         = time.Millisecond
	casJitter          = 2 * time.Millisecond
)

// Repository implements auth.CredentialRepository on Redis. Each record is a
// hash at {prefix}cred:{username}; a sorted set at {prefix}idx:last_attempt
// scores usernames by their last failed attempt in unix milliseconds.
type Repository struct {
	client      redis.UniversalClient
	prefix      string
	casAttempts uint64
	initialized atomic.Bool
}

// Compile-time interface check.
var _ auth.CredentialRepository = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(r *Repository) { r.prefix = prefix }
}

// WithCASAttempts bounds how often a contended write is retried.
func WithCASAttempts(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.casAttempts = uint64(n)
		}
	}
}

// NewRepository creates a repository over client.
func NewRepository(client redis.UniversalClient, opts ...Option) *Repository {
	r := &Repository{client: client, prefix: DefaultPrefix, casAttempts: defaultCASAttempts}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) credKey(username string) string {
	return r.prefix + "cred:" + username
}

func (r *Repository) indexKey() string {
	return r.prefix + "idx:last_attempt"
}

// Init checks that the server answers.
func (r *Repository) Init(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return auth.StoreInitError(backendName, err)
	}
	r.initialized.Store(true)
	return nil
}

func (r *Repository) ready(operation string) error {
	if !r.initialized.Load() {
		return auth.StoreUnavailableError(backendName, operation)
	}
	return nil
}

// Create stores a new record unless the username is taken.
func (r *Repository) Create(ctx context.Context, rec *auth.CredentialRecord) error {
	if err := r.ready("create"); err != nil {
		return err
	}
	key := r.credKey(rec.Username)
	return r.withCAS(ctx, "create credential", key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return auth.StorageIOError(backendName, "check credential", err)
		}
		if n > 0 {
			return auth.DuplicateUsernameError(backendName, rec.Username)
		}
		return r.write(ctx, tx, rec)
	})
}

// Get retrieves the record for username, or nil when there is none.
func (r *Repository) Get(ctx context.Context, username string) (*auth.CredentialRecord, error) {
	if err := r.ready("get"); err != nil {
		return nil, err
	}
	fields, err := r.client.HGetAll(ctx, r.credKey(username)).Result()
	if err != nil {
		return nil, auth.StorageIOError(backendName, "get credential", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := decode(fields)
	if err != nil {
		return nil, auth.StorageIOError(backendName, "decode credential", err)
	}
	return rec, nil
}

// Update replaces an existing record.
func (r *Repository) Update(ctx context.Context, rec *auth.CredentialRecord) error {
	if err := r.ready("update"); err != nil {
		return err
	}
	key := r.credKey(rec.Username)
	return r.withCAS(ctx, "update credential", key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return auth.StorageIOError(backendName, "check credential", err)
		}
		if n == 0 {
			return auth.RecordNotFoundError(backendName, rec.Username)
		}
		return r.write(ctx, tx, rec)
	})
}

// Mutate applies fn to the current record and writes it back if no other
// client touched the key in between, retrying otherwise.
func (r *Repository) Mutate(ctx context.Context, username string, fn auth.MutateFunc) (*auth.CredentialRecord, error) {
	if err := r.ready("mutate"); err != nil {
		return nil, err
	}
	key := r.credKey(username)
	var out *auth.CredentialRecord
	err := r.withCAS(ctx, "mutate credential", key, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return auth.StorageIOError(backendName, "read credential", err)
		}
		if len(fields) == 0 {
			return auth.RecordNotFoundError(backendName, username)
		}
		rec, err := decode(fields)
		if err != nil {
			return auth.StorageIOError(backendName, "decode credential", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.Username = username
		if err := r.write(ctx, tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListLocked returns records with at least minAttempts failures since since,
// ordered by username.
func (r *Repository) ListLocked(ctx context.Context, minAttempts uint32, since time.Time) ([]*auth.CredentialRecord, error) {
	if err := r.ready("list_locked"); err != nil {
		return nil, err
	}
	names, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, auth.StorageIOError(backendName, "scan attempt index", err)
	}

	var out []*auth.CredentialRecord
	for _, name := range names {
		rec, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		// The index may briefly name a record that has since been reset.
		if rec == nil || rec.LastAttemptAt == nil {
			continue
		}
		if rec.FailedAttempts >= minAttempts && !rec.LastAttemptAt.Before(since) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b *auth.CredentialRecord) int {
		switch {
		case a.Username < b.Username:
			return -1
		case a.Username > b.Username:
			return 1
		}
		return 0
	})
	return out, nil
}

// withCAS runs fn under WATCH key and retries when EXEC reports that the key
// changed. fn must return redis.TxFailedErr unwrapped; its other errors are
// returned as they are.
func (r *Repository) withCAS(ctx context.Context, operation, key string, fn func(tx *redis.Tx) error) error {
	backoff := retry.WithMaxRetries(r.casAttempts, retry.WithJitter(casJitter, retry.NewConstant(casBackoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var inner error
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			inner = fn(tx)
			return inner
		}, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			return retry.RetryableError(err)
		case err != nil && inner == nil:
			return auth.StorageIOError(backendName, operation, err)
		}
		return err
	})
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return auth.StorageIOError(backendName, operation,
			oops.With("attempts", r.casAttempts).Wrapf(err, "write contention"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if auth.KindOf(err) == auth.KindUnknown {
			return auth.StorageIOError(backendName, operation, err)
		}
	}
	return err
}

// write queues the record and its index entry in one MULTI/EXEC.
func (r *Repository) write(ctx context.Context, tx *redis.Tx, rec *auth.CredentialRecord) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.credKey(rec.Username), encode(rec))
		if rec.LastAttemptAt != nil && rec.FailedAttempts > 0 {
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{
				Score:  float64(rec.LastAttemptAt.UnixMilli()),
				Member: rec.Username,
			})
		} else {
			pipe.ZRem(ctx, r.indexKey(), rec.Username)
		}
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return err //nolint:wrapcheck // withCAS retries on the bare sentinel
	}
	if err != nil {
		return auth.StorageIOError(backendName, "write credential", err)
	}
	return nil
}

func encode(rec *auth.CredentialRecord) map[string]any {
	last := ""
	if rec.LastAttemptAt != nil {
		last = rec.LastAttemptAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		fieldSchema:         schemaVersion,
		fieldID:             rec.ID.String(),
		fieldUsername:       rec.Username,
		fieldPasswordHash:   rec.PasswordHash,
		fieldFailedAttempts: strconv.FormatUint(uint64(rec.FailedAttempts), 10),
		fieldLastAttemptAt:  last,
		fieldCreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldUpdatedAt:      rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decode(fields map[string]string) (*auth.CredentialRecord, error) {
	if v := fields[fieldSchema]; v != schemaVersion {
		return nil, oops.With("schema", v).Errorf("unsupported credential schema version")
	}
	id, err := ulid.Parse(fields[fieldID])
	if err != nil {
		return nil, oops.With("field", fieldID).Wrap(err)
	}
	attempts, err := strconv.ParseUint(fields[fieldFailedAttempts], 10, 32)
	if err != nil {
		return nil, oops.With("field", fieldFailedAttempts).Wrap(err)
	}
	created, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if err != nil {
		return nil, oops.With("field", fieldCreatedAt).Wrap(err)
	}
	updated, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return nil, oops.With("field", fieldUpdatedAt).Wrap(err)
	}
	rec := &auth.CredentialRecord{
		ID:             id,
		Username:       fields[fieldUsername],
		PasswordHash:   fields[fieldPasswordHash],
		FailedAttempts: uint32(attempts),
		CreatedAt:      created.UTC(),
		UpdatedAt:      updated.UTC(),
	}
	if s := fields[fieldLastAttemptAt]; s != "" {
		last, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, oops.With("field", fieldLastAttemptAt).Wrap(err)
		}
		last = last.UTC()
		rec.LastAttemptAt = &last
	}
	return rec, nil
}
