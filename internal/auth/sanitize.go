// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Credential rule defaults.
const (
	DefaultMinUsernameLength = 3
	DefaultMaxUsernameLength = 64
	DefaultMinPasswordLength = 8
	DefaultMaxPasswordLength = 1024
)

// markupChars may not appear in usernames.
const markupChars = "<>\"'&`"

// CredentialRules bound what Register accepts.
type CredentialRules struct {
	MinUsernameLength int
	MaxUsernameLength int
	MinPasswordLength int
	MaxPasswordLength int
	// MinPasswordScore enforces EvaluatePassword when positive.
	MinPasswordScore int
}

// DefaultCredentialRules returns the registration defaults.
func DefaultCredentialRules() CredentialRules {
	return CredentialRules{
		MinUsernameLength: DefaultMinUsernameLength,
		MaxUsernameLength: DefaultMaxUsernameLength,
		MinPasswordLength: DefaultMinPasswordLength,
		MaxPasswordLength: DefaultMaxPasswordLength,
	}
}

// NormalizeUsername trims surrounding whitespace.
func NormalizeUsername(raw string) string {
	return strings.TrimSpace(raw)
}

// CheckUsernameCharacters rejects control and markup characters.
func CheckUsernameCharacters(username string) error {
	if !utf8.ValidString(username) {
		return invalidInput("username", "Username contains invalid characters.")
	}
	for _, r := range username {
		if unicode.IsControl(r) || strings.ContainsRune(markupChars, r) {
			return invalidInput("username", "Username contains invalid characters.")
		}
	}
	return nil
}

// ValidateUsername checks a normalized username against the rules.
func (r CredentialRules) ValidateUsername(username string) error {
	if username == "" {
		return invalidInput("username", "Please enter both username and password.")
	}
	if err := CheckUsernameCharacters(username); err != nil {
		return err
	}
	n := utf8.RuneCountInString(username)
	if n < r.MinUsernameLength {
		return invalidInput("username", fmt.Sprintf("Username must be at least %d characters long.", r.MinUsernameLength))
	}
	if r.MaxUsernameLength > 0 && n > r.MaxUsernameLength {
		return invalidInput("username", fmt.Sprintf("Username must be at most %d characters long.", r.MaxUsernameLength))
	}
	return nil
}

// ValidatePassword checks a new password against the rules.
func (r CredentialRules) ValidatePassword(password string) error {
	if password == "" {
		return invalidInput("password", "Please enter both username and password.")
	}
	if utf8.RuneCountInString(password) < r.MinPasswordLength {
		return invalidInput("password", fmt.Sprintf("Password must be at least %d characters long.", r.MinPasswordLength))
	}
	if r.MaxPasswordLength > 0 && len(password) > r.MaxPasswordLength {
		return invalidInput("password", fmt.Sprintf("Password must be at most %d bytes long.", r.MaxPasswordLength))
	}
	if r.MinPasswordScore > 0 {
		if s := EvaluatePassword(password); s.Score < r.MinPasswordScore {
			return invalidInput("password", "Password is too weak: "+s.Summary()+".")
		}
	}
	return nil
}
