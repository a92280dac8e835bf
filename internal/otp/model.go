package otp

import (
	"strings"
	"time"
)

// Purpose is the reason a code was issued; only the flow that issued a code
// may consume it.
type Purpose string

const (
	PurposeLogin             Purpose = "login"
	PurposeRegistration      Purpose = "registration"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

// ParsePurpose validates a purpose string.
func ParsePurpose(s string) (Purpose, bool) {
	switch Purpose(strings.ToLower(strings.TrimSpace(s))) {
	case PurposeLogin:
		return PurposeLogin, true
	case PurposeRegistration:
		return PurposeRegistration, true
	case PurposePasswordReset:
		return PurposePasswordReset, true
	case PurposeEmailVerification:
		return PurposeEmailVerification, true
	}
	return "", false
}

// Status moves monotonically: pending -> verified -> used, or
// pending -> expired. Terminal states never revert.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
	StatusUsed     Status = "used"
)

// MaxAttempts is the verification ceiling; the attempt that reaches it forces
// the record to expired regardless of code correctness.
const MaxAttempts = 5

// CodeLength is the exact number of decimal digits in a code.
const CodeLength = 6

// Record is a one-time password bound to (email, purpose).
type Record struct {
	ID         string
	Email      string // lowercased
	Code       string // exactly 6 ASCII digits, leading zeros preserved
	Purpose    Purpose
	Status     Status
	Attempts   int
	ExpiresAt  time.Time
	IssuedAt   time.Time
	VerifiedAt *time.Time
	ClientIP   string
	UserAgent  string
}

// Expired reports whether the record's deadline has passed at the given time.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
