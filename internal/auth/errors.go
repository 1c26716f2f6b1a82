// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

// Error codes attached to every error returned by this package and its
// repository implementations. Each error is coded once, where it originates.
const (
	CodeInvalidInput          = "AUTH_INVALID_INPUT"
	CodeUsernameTaken         = "AUTH_USERNAME_TAKEN"
	CodeInvalidCredentials    = "AUTH_INVALID_CREDENTIALS"
	CodeRateLimited           = "AUTH_RATE_LIMITED"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeHashEngineUnavailable = "HASH_ENGINE_UNAVAILABLE"
	CodeDependencyLoadTimeout = "DEPENDENCY_LOAD_TIMEOUT"
	CodeStorageIO             = "STORAGE_IO_ERROR"
	CodeDuplicateUsername     = "DUPLICATE_USERNAME"
	CodeRecordNotFound        = "RECORD_NOT_FOUND"
)

// Sentinel errors. Coded errors wrap exactly one of these so callers can use
// errors.Is without depending on codes.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUsernameTaken         = errors.New("username taken")
	ErrInvalidCredentials    = errors.New("invalid username or password")
	ErrRateLimited           = errors.New("too many login attempts")
	ErrStoreUnavailable      = errors.New("credential store unavailable")
	ErrHashEngineUnavailable = errors.New("hash engine unavailable")
	ErrDependencyLoadTimeout = errors.New("dependency load timeout")
	ErrStorageIO             = errors.New("storage i/o error")
	ErrDuplicateUsername     = errors.New("duplicate username")
	ErrRecordNotFound        = errors.New("record not found")
)

// Kind groups error codes by how a caller should react to them.
type Kind string

// Error kinds.
const (
	KindUnknown         Kind = ""
	KindInputValidation Kind = "input_validation"
	KindAuthentication  Kind = "authentication"
	KindAvailability    Kind = "availability"
	KindPersistence     Kind = "persistence"
)

var kindBySentinel = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidInput, KindInputValidation},
	{ErrUsernameTaken, KindInputValidation},
	{ErrInvalidCredentials, KindAuthentication},
	{ErrRateLimited, KindAuthentication},
	{ErrStoreUnavailable, KindAvailability},
	{ErrHashEngineUnavailable, KindAvailability},
	{ErrDependencyLoadTimeout, KindAvailability},
	{ErrStorageIO, KindPersistence},
	{ErrDuplicateUsername, KindPersistence},
	{ErrRecordNotFound, KindPersistence},
}

// KindOf classifies err. Errors that do not wrap a sentinel of this package
// report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, entry := range kindBySentinel {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the caller should back off and retry.
func Retryable(err error) bool {
	return KindOf(err) == KindAvailability
}

// Code returns the oops code carried by err, or "" when there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// RateLimitedError carries the time left on an account lockout.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) hold for rate limit errors.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the lockout remaining time from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// PublicMessage returns text that is safe to show an end user. It never
// includes storage details and never tells unknown usernames apart from
// wrong passwords.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Code(err) {
	case CodeInvalidInput:
		if oopsErr, ok := oops.AsOops(err); ok {
			if msg, ok := oopsErr.Context()["message"].(string); ok && msg != "" {
				return msg
			}
		}
		return "Please check your input and try again."
	case CodeUsernameTaken:
		return "Username already exists. Please choose another."
	case CodeInvalidCredentials:
		return "Invalid username or password."
	case CodeRateLimited:
		if wait, ok := RetryAfter(err); ok {
			minutes := int((wait + time.Minute - 1) / time.Minute)
			if minutes < 1 {
				minutes = 1
			}
			return fmt.Sprintf("Too many login attempts. Please try again in %d minute(s).", minutes)
		}
		return "Too many login attempts. Please try again later."
	case CodeStoreUnavailable, CodeHashEngineUnavailable, CodeDependencyLoadTimeout:
		return "The service is starting up. Please try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}

func invalidInput(field, message string) error {
	return oops.Code(CodeInvalidInput).
		In("auth").
		With("field", field).
		With("message", message).
		Wrapf(ErrInvalidInput, "%s", message)
}

func usernameTaken(username string) error {
	return oops.Code(CodeUsernameTaken).
		In("auth").
		With("username", username).
		Wrap(ErrUsernameTaken)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).
		In("auth").
		Wrap(ErrInvalidCredentials)
}

func rateLimited(username string, retryAfter time.Duration) error {
	return oops.Code(CodeRateLimited).
		In("auth").
		With("username", username).
		With("retry_after", retryAfter.String()).
		Wrap(&RateLimitedError{RetryAfter: retryAfter})
}

// HashEngineUnavailableError reports that the hash engine cannot be invoked yet.
func HashEngineUnavailableError(operation string) error {
	return oops.Code(CodeHashEngineUnavailable).
		In("hasher").
		With("operation", operation).
		Wrap(ErrHashEngineUnavailable)
}

func dependencyLoadTimeout(attempts uint64, interval time.Duration) error {
	return oops.Code(CodeDependencyLoadTimeout).
		In("readiness").
		With("attempts", attempts).
		With("interval", interval.String()).
		Wrap(ErrDependencyLoadTimeout)
}

// StoreUnavailableError reports an operation issued before the backend finished
// initializing.
func StoreUnavailableError(backend, operation string) error {
	return oops.Code(CodeStoreUnavailable).
		In("store").
		With("backend", backend).
		With("operation", operation).
		Wrap(ErrStoreUnavailable)
}

// StoreInitError reports a backend that could not finish initializing.
func StoreInitError(backend string, cause error) error {
	return oops.Code(CodeStoreUnavailable).
		In("store").
		With("backend", backend).
		With("operation", "init").
		Wrap(errors.Join(ErrStoreUnavailable, cause))
}

// StorageIOError wraps an underlying backend failure. The cause is kept for
// operators; PublicMessage never exposes it.
func StorageIOError(backend, operation string, cause error) error {
	return oops.Code(CodeStorageIO).
		In("store").
		With("backend", backend).
		With("operation", operation).
		Wrap(errors.Join(ErrStorageIO, cause))
}

// DuplicateUsernameError reports a create for an existing username.
func DuplicateUsernameError(backend, username string) error {
	return oops.Code(CodeDuplicateUsername).
		In("store").
		With("backend", backend).
		With("username", username).
		Wrap(ErrDuplicateUsername)
}

// RecordNotFoundError reports an update of a username with no record.
func RecordNotFoundError(backend, username string) error {
	return oops.Code(CodeRecordNotFound).
		In("store").
		With("backend", backend).
		With("username", username).
		Wrap(ErrRecordNotFound)
}
