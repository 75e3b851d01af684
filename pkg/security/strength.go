// Package security estimates master password strength for the create flow.
package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Length bounds enforced on a new master password, counted in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordStrength represents the strength level of a password.
type PasswordStrength int

const (
	// PasswordWeak indicates an unacceptable or trivially guessable password.
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable password.
	PasswordFair
	// PasswordGood indicates a good password.
	PasswordGood
	// PasswordStrong indicates a strong password.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// Assessment is the result of evaluating a candidate master password.
type Assessment struct {
	Valid    bool             // meets the length bounds
	Strength PasswordStrength // estimated strength
	Warnings []string         // suggestions, never errors
}

// Assess evaluates a master password. Length is the primary factor; mixing
// character classes only nudges the estimate and produces suggestions.
func Assess(password string) *Assessment {
	n := utf8.RuneCountInString(password)
	a := &Assessment{Valid: true}

	if n < MinPasswordLength {
		a.Valid = false
		a.Warnings = append(a.Warnings, fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return a
	}
	if n > MaxPasswordLength {
		a.Valid = false
		a.Warnings = append(a.Warnings, fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return a
	}

	classes := characterClasses(password)
	if classes < 2 {
		a.Warnings = append(a.Warnings, "Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if n < 12 {
		a.Warnings = append(a.Warnings, "Longer passwords (12+ characters) are more secure")
	}
	if repeated(password) {
		a.Warnings = append(a.Warnings, "Avoid passwords made of a single repeated character")
		a.Strength = PasswordWeak
		return a
	}

	switch {
	case n >= 20 || (classes >= 3 && n >= 16):
		a.Strength = PasswordStrong
	case n >= 14 || (classes >= 2 && n >= 12):
		a.Strength = PasswordGood
	case classes >= 2 || n >= 10:
		a.Strength = PasswordFair
	default:
		a.Strength = PasswordWeak
	}
	return a
}

func characterClasses(s string) int {
	var upper, lower, digit, other bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	n := 0
	for _, b := range []bool{upper, lower, digit, other} {
		if b {
			n++
		}
	}
	return n
}

func repeated(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}
