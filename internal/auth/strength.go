// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"unicode/utf8"
)

// MaxStrengthScore is the highest score EvaluatePassword reports.
const MaxStrengthScore = 5

// Strength levels.
const (
	StrengthWeak   = "weak"
	StrengthMedium = "medium"
	StrengthStrong = "strong"
)

// PasswordStrength is a heuristic rating of a candidate password.
type PasswordStrength struct {
	Score    int
	Level    string
	Feedback []string
}

// Summary joins the feedback into one line.
func (s PasswordStrength) Summary() string {
	if len(s.Feedback) == 0 {
		return "Password strength is good"
	}
	return strings.Join(s.Feedback, ", ")
}

// EvaluatePassword rates password on a 0-5 scale.
func EvaluatePassword(password string) PasswordStrength {
	var (
		score    int
		feedback []string
	)

	switch n := utf8.RuneCountInString(password); {
	case n < 8:
		feedback = append(feedback, "Password should be at least 8 characters long")
	case n > 12:
		score += 2
	default:
		score++
	}

	var lower, upper, digit, other bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			other = true
		}
	}
	if lower {
		score++
	}
	if upper {
		score++
	} else {
		feedback = append(feedback, "Add uppercase letters")
	}
	if digit {
		score++
	} else {
		feedback = append(feedback, "Add numbers")
	}
	if other {
		score++
	} else {
		feedback = append(feedback, "Add special characters")
	}

	if hasRepeatedRun(password, 3) {
		score--
		feedback = append(feedback, "Avoid repeated characters")
	}

	prefix := strings.ToLower(password)
	if strings.HasPrefix(prefix, "123") || strings.HasPrefix(prefix, "abc") || strings.HasPrefix(prefix, "qwe") {
		score--
		feedback = append(feedback, "Avoid common patterns")
	}

	score = max(0, min(MaxStrengthScore, score))
	return PasswordStrength{Score: score, Level: strengthLevel(score), Feedback: feedback}
}

func strengthLevel(score int) string {
	switch {
	case score <= 1:
		return StrengthWeak
	case score <= 3:
		return StrengthMedium
	default:
		return StrengthStrong
	}
}

// hasRepeatedRun reports whether s holds n or more identical runes in a row.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}
