// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres stores credentials in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/lockbox/internal/auth"
)

const backendName = "postgres"

const credentialColumns = `username, id, password_hash, failed_attempts, last_attempt_at, created_at, updated_at`

// Pool is the part of pgxpool.Pool the repository uses. pgxmock pools
// satisfy it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CredentialRepository implements auth.CredentialRepository on a
// credentials table keyed by username.
type CredentialRepository struct {
	pool        Pool
	initialized atomic.Bool
}

// Compile-time interface check.
var _ auth.CredentialRepository = (*CredentialRepository)(nil)

// NewCredentialRepository creates a repository over pool.
func NewCredentialRepository(pool Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Init verifies that the database answers and the schema has been migrated.
func (r *CredentialRepository) Init(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}
	var present bool
	if err := r.pool.QueryRow(ctx, `SELECT to_regclass('credentials') IS NOT NULL`).Scan(&present); err != nil {
		return auth.StoreInitError(backendName, err)
	}
	if !present {
		return auth.StoreInitError(backendName, errors.New("credentials table missing; run migrations"))
	}
	r.initialized.Store(true)
	return nil
}

func (r *CredentialRepository) ready(operation string) error {
	if !r.initialized.Load() {
		return auth.StoreUnavailableError(backendName, operation)
	}
	return nil
}

// Create stores a new record.
func (r *CredentialRepository) Create(ctx context.Context, rec *auth.CredentialRecord) error {
	if err := r.ready("create"); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		rec.Username,
		rec.ID.String(),
		rec.PasswordHash,
		int64(rec.FailedAttempts),
		rec.LastAttemptAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return auth.DuplicateUsernameError(backendName, rec.Username)
		}
		return auth.StorageIOError(backendName, "insert credential", err)
	}
	return nil
}

// Get retrieves the record for username.
func (r *CredentialRepository) Get(ctx context.Context, username string) (*auth.CredentialRecord, error) {
	if err := r.ready("get"); err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE username = $1
	`, username)

	rec, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.StorageIOError(backendName, "get credential", err)
	}
	return rec, nil
}

// Update replaces the mutable columns of the record.
func (r *CredentialRepository) Update(ctx context.Context, rec *auth.CredentialRecord) error {
	if err := r.ready("update"); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, updateSQL, updateArgs(rec)...)
	if err != nil {
		return auth.StorageIOError(backendName, "update credential", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.RecordNotFoundError(backendName, rec.Username)
	}
	return nil
}

const updateSQL = `
		UPDATE credentials SET
			password_hash = $2,
			failed_attempts = $3,
			last_attempt_at = $4,
			updated_at = $5
		WHERE username = $1
	`

func updateArgs(rec *auth.CredentialRecord) []any {
	return []any{
		rec.Username,
		rec.PasswordHash,
		int64(rec.FailedAttempts),
		rec.LastAttemptAt,
		rec.UpdatedAt,
	}
}

// Mutate locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// result in the same transaction.
func (r *CredentialRepository) Mutate(ctx context.Context, username string, fn auth.MutateFunc) (*auth.CredentialRecord, error) {
	if err := r.ready("mutate"); err != nil {
		return nil, err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, auth.StorageIOError(backendName, "begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error takes precedence
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE username = $1
		FOR UPDATE
	`, username)
	rec, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.RecordNotFoundError(backendName, username)
	}
	if err != nil {
		return nil, auth.StorageIOError(backendName, "lock credential", err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Username = username

	if _, err := tx.Exec(ctx, updateSQL, updateArgs(rec)...); err != nil {
		return nil, auth.StorageIOError(backendName, "update credential", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, auth.StorageIOError(backendName, "commit transaction", err)
	}
	committed = true
	return rec, nil
}

// ListLocked returns records with at least minAttempts failures since since.
// Served by the indexes added in schema version 2.
func (r *CredentialRepository) ListLocked(ctx context.Context, minAttempts uint32, since time.Time) ([]*auth.CredentialRecord, error) {
	if err := r.ready("list_locked"); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE failed_attempts >= $1 AND last_attempt_at >= $2
		ORDER BY username
	`, int64(minAttempts), since)
	if err != nil {
		return nil, auth.StorageIOError(backendName, "list locked credentials", err)
	}
	defer rows.Close()

	var out []*auth.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, auth.StorageIOError(backendName, "scan credential row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StorageIOError(backendName, "iterate credentials", err)
	}
	return out, nil
}

// scanCredential scans a single row into a CredentialRecord.
// Callers are responsible for handling pgx.ErrNoRows.
func scanCredential(row pgx.Row) (*auth.CredentialRecord, error) {
	var (
		username       string
		idStr          string
		passwordHash   string
		failedAttempts int64
		lastAttemptAt  *time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)
	if err := row.Scan(
		&username,
		&idStr,
		&passwordHash,
		&failedAttempts,
		&lastAttemptAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse credential id").With("id", idStr).Wrap(err)
	}
	if failedAttempts < 0 || failedAttempts > int64(^uint32(0)) {
		return nil, oops.With("failed_attempts", failedAttempts).Errorf("failed_attempts out of range")
	}

	rec := &auth.CredentialRecord{
		ID:             id,
		Username:       username,
		PasswordHash:   passwordHash,
		FailedAttempts: uint32(failedAttempts),
		CreatedAt:      createdAt.UTC(),
		UpdatedAt:      updatedAt.UTC(),
	}
	if lastAttemptAt != nil {
		t := lastAttemptAt.UTC()
		rec.LastAttemptAt = &t
	}
	return rec, nil
}
