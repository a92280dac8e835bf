package otp

import "errors"

// ErrNoPending is returned by repositories when no pending record exists for
// (email, purpose).
var ErrNoPending = errors.New("otp: no pending record")

// ErrStaleRecord is returned when a conditional update loses a race; the
// caller re-reads and retries or fails the verification.
var ErrStaleRecord = errors.New("otp: concurrent update, record is stale")

// FailureReason classifies why a verification was rejected.
type FailureReason string

const (
	ReasonNoPending       FailureReason = "no_pending"
	ReasonExpired         FailureReason = "expired"
	ReasonTooManyAttempts FailureReason = "too_many_attempts"
	ReasonWrongCode       FailureReason = "wrong_code"
)

// VerifyError carries the internal reason for a failed verification. The
// client-facing message is identical for NoPending and WrongCode so that
// responses do not reveal whether an email has an outstanding code.
type VerifyError struct {
	Reason FailureReason
}

func (e *VerifyError) Error() string {
	return "otp: verification failed: " + string(e.Reason)
}

// ClientMessage is the text safe to return to callers.
func (e *VerifyError) ClientMessage() string {
	switch e.Reason {
	case ReasonExpired:
		return "OTP code has expired"
	case ReasonTooManyAttempts:
		return "Too many incorrect attempts"
	default:
		return "Invalid OTP code"
	}
}
