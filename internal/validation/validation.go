// Package validation provides input validation functions.
package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidEmail is returned when an address is not local@domain shaped
	ErrInvalidEmail = errors.New("invalid email: must be in local@domain format")
)

const (
	// Address length cap (RFC 5321 path limit)
	maxEmailLength = 254
)

// Address pattern: permissive local part, dotted domain, no spaces.
// Matches what the wire protocol accepts for LOGIN/REGISTER/receivers.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)

// Email checks if an address meets format and length requirements
func Email(email string) error {
	email = strings.TrimSpace(email)

	if len(email) == 0 || len(email) > maxEmailLength {
		return ErrInvalidEmail
	}

	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}

	return nil
}

// NormalizeEmail returns the canonical form of an address used for
// identity comparison: trimmed and lowercased. Account identity is
// case-insensitive across the whole server.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
