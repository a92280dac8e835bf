package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careloop/clinic-platform/pkg/logging"
)

// casRetries bounds re-reads when a guarded update loses to a concurrent
// verification of the same record.
const casRetries = 3

// Service issues and verifies one-time codes. It is the only code path
// allowed to mutate OTP records.
type Service struct {
	repo   Repository
	ttl    time.Duration
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates an OTP service with the given record TTL.
func NewService(repo Repository, ttl time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{repo: repo, ttl: ttl, logger: logger, now: time.Now}
}

// WithClock overrides the time source; test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue atomically expires any prior pending codes for (email, purpose) and
// stores a fresh one. Delivery is the caller's concern.
func (s *Service) Issue(ctx context.Context, email string, purpose Purpose, clientIP, userAgent string) (*Record, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &Record{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Code:      code,
		Purpose:   purpose,
		Status:    StatusPending,
		Attempts:  0,
		ExpiresAt: now.Add(s.ttl),
		IssuedAt:  now,
		ClientIP:  clientIP,
		UserAgent: userAgent,
	}
	if err := s.repo.Issue(ctx, rec); err != nil {
		return nil, fmt.Errorf("otp: issue failed: %w", err)
	}

	s.logger.Info("otp issued", "email", rec.Email, "purpose", rec.Purpose, "expires_at", rec.ExpiresAt)
	return rec, nil
}

// Verify checks a submitted code against the single pending record for
// (email, purpose). On success the record moves to verified; every failure
// path is accounted for in the record's state.
func (s *Service) Verify(ctx context.Context, email, code string, purpose Purpose) (*Record, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := s.repo.FindPending(ctx, email, purpose)
		if err != nil {
			return nil, &VerifyError{Reason: ReasonNoPending}
		}

		now := s.now().UTC()
		if rec.Expired(now) {
			expected := rec.Attempts
			rec.Status = StatusExpired
			if retry, err := s.applyGuarded(ctx, rec, expected); retry {
				continue
			} else if err != nil {
				// The record stays pending; the sweeper will collect it.
				s.logger.Error("otp expiry persist failed", "email", email, "purpose", purpose, "error", err)
			}
			return nil, &VerifyError{Reason: ReasonExpired}
		}

		expected := rec.Attempts
		rec.Attempts++

		if rec.Attempts >= MaxAttempts {
			rec.Status = StatusExpired
			if retry, err := s.applyGuarded(ctx, rec, expected); retry {
				continue
			} else if err != nil {
				s.logger.Error("otp ceiling persist failed", "email", email, "purpose", purpose, "error", err)
			}
			s.logger.Warn("otp attempt ceiling reached", "email", email, "purpose", purpose)
			return nil, &VerifyError{Reason: ReasonTooManyAttempts}
		}

		if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
			if retry, err := s.applyGuarded(ctx, rec, expected); retry {
				continue
			} else if err != nil {
				// Do not let an unrecorded attempt widen the guessing budget.
				return nil, fmt.Errorf("otp: attempt count persist failed: %w", err)
			}
			return nil, &VerifyError{Reason: ReasonWrongCode}
		}

		verifiedAt := now
		rec.Status = StatusVerified
		rec.VerifiedAt = &verifiedAt
		if retry, err := s.applyGuarded(ctx, rec, expected); retry {
			continue
		} else if err != nil {
			// Without the persisted transition the code must not authorize
			// anything.
			return nil, fmt.Errorf("otp: verified transition persist failed: %w", err)
		}
		s.logger.Info("otp verified", "email", email, "purpose", purpose)
		return rec, nil
	}

	// Lost every CAS race; the concurrent writers have advanced the record.
	return nil, &VerifyError{Reason: ReasonWrongCode}
}

// applyGuarded runs a guarded update and separates the lost-race case, which
// the caller retries, from real storage failures.
func (s *Service) applyGuarded(ctx context.Context, rec *Record, expected int) (retry bool, err error) {
	switch err := s.repo.UpdateGuarded(ctx, rec, expected); {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrStaleRecord):
		return true, nil
	default:
		return false, err
	}
}

// Consume transitions a verified record to used so it cannot authorize a
// second action. Idempotent on already-used records.
func (s *Service) Consume(ctx context.Context, rec *Record) error {
	if err := s.repo.MarkUsed(ctx, rec.ID); err != nil {
		return fmt.Errorf("otp: consume failed: %w", err)
	}
	return nil
}
