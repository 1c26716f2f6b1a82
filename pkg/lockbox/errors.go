// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lockbox

import (
	"time"

	"github.com/holomush/lockbox/internal/auth"
)

// Sentinels for errors.Is. Every error a Vault returns wraps one of them.
var (
	ErrInvalidInput          = auth.ErrInvalidInput
	ErrUsernameTaken         = auth.ErrUsernameTaken
	ErrInvalidCredentials    = auth.ErrInvalidCredentials
	ErrRateLimited           = auth.ErrRateLimited
	ErrStoreUnavailable      = auth.ErrStoreUnavailable
	ErrHashEngineUnavailable = auth.ErrHashEngineUnavailable
	ErrDependencyLoadTimeout = auth.ErrDependencyLoadTimeout
	ErrStorageIO             = auth.ErrStorageIO
	ErrDuplicateUsername     = auth.ErrDuplicateUsername
	ErrRecordNotFound        = auth.ErrRecordNotFound
)

// Kind groups errors by how a caller should react to them.
type Kind = auth.Kind

// Error kinds.
const (
	KindUnknown         = auth.KindUnknown
	KindInputValidation = auth.KindInputValidation
	KindAuthentication  = auth.KindAuthentication
	KindAvailability    = auth.KindAvailability
	KindPersistence     = auth.KindPersistence
)

// AccountStatus is the lockout state of one account.
type AccountStatus = auth.AccountStatus

// PasswordStrength is a 0..5 score with feedback.
type PasswordStrength = auth.PasswordStrength

// KindOf classifies err.
func KindOf(err error) Kind { return auth.KindOf(err) }

// Retryable reports whether err is worth retrying after a pause.
func Retryable(err error) bool { return auth.Retryable(err) }

// Code returns the error code carried by err, or "".
func Code(err error) string { return auth.Code(err) }

// RetryAfter returns the time left on a lockout for rate limit errors.
func RetryAfter(err error) (time.Duration, bool) { return auth.RetryAfter(err) }

// PublicMessage returns text that is safe to show the person logging in.
func PublicMessage(err error) string { return auth.PublicMessage(err) }
