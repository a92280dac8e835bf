package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginFailPrefix = "authn:login_failures:"
	otpIssuePrefix  = "authn:otp_issued:"
)

// Limiter tracks per-email authentication abuse. Counters live in redis so
// every instance of the service shares them; increments are atomic on the
// storage side.
type Limiter interface {
	// RecordFailure bumps the failure counter for the email and reports
	// whether the email is now over the limit.
	RecordFailure(ctx context.Context, email string) (bool, error)
	// TooManyFailures reports whether the email is over the limit without
	// recording anything.
	TooManyFailures(ctx context.Context, email string) (bool, error)
	// Reset clears the failure counter after a successful authentication.
	Reset(ctx context.Context, email string) error
	// AllowIssue reports whether an OTP may actually be issued for
	// (email, purpose); at most one issuance per resend gap.
	AllowIssue(ctx context.Context, email, purpose string) (bool, error)
}

// RedisLimiter implements Limiter on go-redis.
type RedisLimiter struct {
	client    *redis.Client
	limit     int
	window    time.Duration
	resendGap time.Duration
}

// NewRedisLimiter creates a limiter with the given failure ceiling per window
// and minimum gap between OTP issuances.
func NewRedisLimiter(client *redis.Client, limit int, window, resendGap time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if resendGap <= 0 {
		resendGap = time.Minute
	}
	return &RedisLimiter{client: client, limit: limit, window: window, resendGap: resendGap}
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, email string) (bool, error) {
	key := loginFailPrefix + email
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("authn: failure counter incr: %w", err)
	}
	if count == 1 {
		// First failure starts the window.
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("authn: failure counter expire: %w", err)
		}
	}
	return count >= int64(l.limit), nil
}

func (l *RedisLimiter) TooManyFailures(ctx context.Context, email string) (bool, error) {
	count, err := l.client.Get(ctx, loginFailPrefix+email).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authn: failure counter read: %w", err)
	}
	return count >= int64(l.limit), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, email string) error {
	if err := l.client.Del(ctx, loginFailPrefix+email).Err(); err != nil {
		return fmt.Errorf("authn: failure counter reset: %w", err)
	}
	return nil
}

func (l *RedisLimiter) AllowIssue(ctx context.Context, email, purpose string) (bool, error) {
	key := otpIssuePrefix + purpose + ":" + email
	ok, err := l.client.SetNX(ctx, key, "1", l.resendGap).Result()
	if err != nil {
		return false, fmt.Errorf("authn: issue gap check: %w", err)
	}
	return ok, nil
}

// NoopLimiter disables throttling; used in tests that exercise other paths.
type NoopLimiter struct{}

func (NoopLimiter) RecordFailure(ctx context.Context, email string) (bool, error) { return false, nil }
func (NoopLimiter) TooManyFailures(ctx context.Context, email string) (bool, error) {
	return false, nil
}
func (NoopLimiter) Reset(ctx context.Context, email string) error { return nil }
func (NoopLimiter) AllowIssue(ctx context.Context, email, purpose string) (bool, error) {
	return true, nil
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = NoopLimiter{}
)
