// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides an in-process credential repository.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/holomush/lockbox/internal/auth"
)

const backendName = "memory"

// Repository keeps credential records in a map. Each username has its own
// lock so writers of different usernames never wait on each other; the map
// lock is only held for lookups and stores.
type Repository struct {
	mu          sync.Mutex
	initialized bool
	records     map[string]*auth.CredentialRecord
	keys        map[string]chan struct{}
}

// Compile-time interface check.
var _ auth.CredentialRepository = (*Repository)(nil)

// NewRepository creates an empty repository. Init must be called before use.
func NewRepository() *Repository {
	return &Repository{
		records: make(map[string]*auth.CredentialRecord),
		keys:    make(map[string]chan struct{}),
	}
}

// Init marks the repository usable.
func (r *Repository) Init(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = true
	return nil
}

func (r *Repository) ready(operation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return auth.StoreUnavailableError(backendName, operation)
	}
	return nil
}

// lockKey acquires the per-username lock, giving up when ctx ends.
func (r *Repository) lockKey(ctx context.Context, username, operation string) (func(), error) {
	r.mu.Lock()
	sem, ok := r.keys[username]
	if !ok {
		sem = make(chan struct{}, 1)
		r.keys[username] = sem
	}
	r.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, auth.StorageIOError(backendName, operation, ctx.Err())
	}
}

// Create stores a new record.
func (r *Repository) Create(ctx context.Context, rec *auth.CredentialRecord) error {
	if err := r.ready("create"); err != nil {
		return err
	}
	unlock, err := r.lockKey(ctx, rec.Username, "create")
	if err != nil {
		return err
	}
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.Username]; exists {
		return auth.DuplicateUsernameError(backendName, rec.Username)
	}
	r.records[rec.Username] = rec.Clone()
	return nil
}

// Get returns a copy of the record for username.
func (r *Repository) Get(ctx context.Context, username string) (*auth.CredentialRecord, error) {
	if err := r.ready("get"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, auth.StorageIOError(backendName, "get", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[username].Clone(), nil
}

// Update replaces the record with the same username.
func (r *Repository) Update(ctx context.Context, rec *auth.CredentialRecord) error {
	if err := r.ready("update"); err != nil {
		return err
	}
	unlock, err := r.lockKey(ctx, rec.Username, "update")
	if err != nil {
		return err
	}
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.Username]; !exists {
		return auth.RecordNotFoundError(backendName, rec.Username)
	}
	r.records[rec.Username] = rec.Clone()
	return nil
}

// Mutate applies fn to the record for username while holding its lock.
func (r *Repository) Mutate(ctx context.Context, username string, fn auth.MutateFunc) (*auth.CredentialRecord, error) {
	if err := r.ready("mutate"); err != nil {
		return nil, err
	}
	unlock, err := r.lockKey(ctx, username, "mutate")
	if err != nil {
		return nil, err
	}
	defer unlock()

	r.mu.Lock()
	rec := r.records[username].Clone()
	r.mu.Unlock()
	if rec == nil {
		return nil, auth.RecordNotFoundError(backendName, username)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Username = username

	r.mu.Lock()
	r.records[username] = rec.Clone()
	r.mu.Unlock()
	return rec, nil
}

// ListLocked returns records at or above minAttempts whose last attempt is
// not before since.
func (r *Repository) ListLocked(ctx context.Context, minAttempts uint32, since time.Time) ([]*auth.CredentialRecord, error) {
	if err := r.ready("list_locked"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, auth.StorageIOError(backendName, "list_locked", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auth.CredentialRecord
	for _, rec := range r.records {
		if rec.FailedAttempts >= minAttempts && rec.LastAttemptAt != nil && !rec.LastAttemptAt.Before(since) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
