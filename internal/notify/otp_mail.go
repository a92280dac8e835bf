package notify

import (
	"fmt"

	"github.com/careloop/clinic-platform/internal/otp"
)

// OTPEmail composes the delivery message for a one-time code. Subjects vary
// by purpose so users can tell a login prompt from a reset prompt.
func OTPEmail(to string, purpose otp.Purpose, code string, ttlMinutes int) EmailMessage {
	var subject string
	switch purpose {
	case otp.PurposeLogin:
		subject = "Your login verification code"
	case otp.PurposePasswordReset:
		subject = "Your password reset code"
	case otp.PurposeRegistration, otp.PurposeEmailVerification:
		subject = "Verify your email address"
	default:
		subject = "Your verification code"
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes. If you did not request this code, ignore this email.", code, ttlMinutes)
	return EmailMessage{
		To:      to,
		Subject: subject,
		Body:    body,
	}
}
