// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// CredentialRecord is the persisted credential for one username.
type CredentialRecord struct {
	// ID is an informational surrogate; Username is the only key.
	ID             ulid.ULID
	Username       string
	PasswordHash   string
	FailedAttempts uint32
	LastAttemptAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewCredentialRecord creates a record with a zeroed attempt history.
func NewCredentialRecord(username, passwordHash string, now time.Time) (*CredentialRecord, error) {
	if username == "" {
		return nil, oops.Code(CodeInvalidInput).With("field", "username").Wrapf(ErrInvalidInput, "username cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInvalidInput).With("field", "password_hash").Wrapf(ErrInvalidInput, "password hash cannot be empty")
	}
	now = now.UTC()
	return &CredentialRecord{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy so callers never share LastAttemptAt.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastAttemptAt != nil {
		t := *r.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return &c
}

// MutateFunc edits a record in place during an atomic read-modify-write.
// Returning an error aborts the write. Optimistic backends may call it more
// than once, each time with a freshly read record.
type MutateFunc func(rec *CredentialRecord) error

// CredentialRepository persists credential records keyed by username.
//
// Implementations must serialize writes to the same username and must not
// block writes to different usernames on each other.
type CredentialRepository interface {
	// Init finishes backend initialization. Every other method fails with
	// ErrStoreUnavailable until Init succeeds. Init is idempotent.
	Init(ctx context.Context) error

	// Create stores a new record, failing with ErrDuplicateUsername when the
	// username already exists.
	Create(ctx context.Context, rec *CredentialRecord) error

	// Get returns the record for username, or (nil, nil) when there is none.
	Get(ctx context.Context, username string) (*CredentialRecord, error)

	// Update replaces the record with the same username, failing with
	// ErrRecordNotFound when there is none.
	Update(ctx context.Context, rec *CredentialRecord) error

	// Mutate reads the record, applies fn and writes the result atomically
	// with respect to other writers of the same username. It returns the
	// written record.
	Mutate(ctx context.Context, username string, fn MutateFunc) (*CredentialRecord, error)

	// ListLocked returns records with at least minAttempts failures whose
	// last failure is at or after since, ordered by username.
	ListLocked(ctx context.Context, minAttempts uint32, since time.Time) ([]*CredentialRecord, error)
}
