package password

import (
	"errors"
	"strings"
	"unicode"
)

const specialChars = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// ErrWeakPassword is returned when a password fails the server-side policy.
var ErrWeakPassword = errors.New("password: must be at least 8 characters with upper, lower, digit and special character")

// ValidatePolicy enforces the password policy applied at principal creation
// and on reset: length >= 8 with upper, lower, digit, and one special
// character.
func ValidatePolicy(plaintext string) error {
	if len(plaintext) < 8 {
		return ErrWeakPassword
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return ErrWeakPassword
	}
	return nil
}
