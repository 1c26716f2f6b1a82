// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"
)

// Lockout defaults.
const (
	// DefaultMaxAttempts is the number of failures that locks an account.
	DefaultMaxAttempts = 5

	// DefaultLockoutWindow is how long a lock lasts after the latest failure.
	DefaultLockoutWindow = 15 * time.Minute
)

// LockoutPolicy decides lock state from a record's attempt history. It holds
// no state of its own and never starts timers: expiry is observed lazily by
// the next authentication attempt.
type LockoutPolicy struct {
	MaxAttempts uint32
	Window      time.Duration
}

// DefaultLockoutPolicy returns the 5 failures / 15 minutes policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxAttempts, Window: DefaultLockoutWindow}
}

func (p LockoutPolicy) thresholdReached(rec *CredentialRecord) bool {
	return rec != nil && rec.FailedAttempts >= p.MaxAttempts && rec.LastAttemptAt != nil
}

// IsLocked reports whether rec is locked at now.
func (p LockoutPolicy) IsLocked(rec *CredentialRecord, now time.Time) bool {
	if !p.thresholdReached(rec) {
		return false
	}
	return now.Sub(*rec.LastAttemptAt) < p.Window
}

// LockExpired reports whether rec reached the threshold but its window elapsed.
func (p LockoutPolicy) LockExpired(rec *CredentialRecord, now time.Time) bool {
	if !p.thresholdReached(rec) {
		return false
	}
	return now.Sub(*rec.LastAttemptAt) >= p.Window
}

// RetryAfter returns the time left on a lock, or zero when rec is not locked.
func (p LockoutPolicy) RetryAfter(rec *CredentialRecord, now time.Time) time.Duration {
	if !p.IsLocked(rec, now) {
		return 0
	}
	return p.Window - now.Sub(*rec.LastAttemptAt)
}

// OnFailure records one failed attempt at now.
func (p LockoutPolicy) OnFailure(rec *CredentialRecord, now time.Time) {
	if rec.FailedAttempts < ^uint32(0) {
		rec.FailedAttempts++
	}
	stamp := now.UTC()
	rec.LastAttemptAt = &stamp
}

// OnSuccess clears the attempt history.
func (p LockoutPolicy) OnSuccess(rec *CredentialRecord) {
	rec.FailedAttempts = 0
	rec.LastAttemptAt = nil
}

// OnLockExpiry clears the attempt history of a lock that ran out.
func (p LockoutPolicy) OnLockExpiry(rec *CredentialRecord) {
	p.OnSuccess(rec)
}
