// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth stores local credentials and throttles password guessing.
//
// # Components
//
//   - Argon2idHasher - salted argon2id hashing with background cost calibration
//   - ReadinessGate - bounded wait for the hasher to become usable
//   - CredentialRepository - per-username atomic storage (see the memory,
//     postgres and redisstore subpackages)
//   - LockoutPolicy - pure lock decisions from a record's attempt history
//   - Service - register, authenticate and lock inspection
//
// # Errors
//
// Every error returned here carries an oops code and wraps one sentinel.
// Use KindOf to decide how to react and PublicMessage for text shown to users.
// Invalid credentials never reveal whether the username exists.
//
// # Lockout
//
// After MaxAttempts consecutive failures an account is rejected for Window
// measured from the latest failure. Expiry is lazy: the next attempt after the
// window clears the history before the password is checked.
package auth
