package otp

import (
	"context"
	"time"

	"github.com/careloop/clinic-platform/pkg/logging"
)

// Sweeper removes terminal OTP records a grace period after expiry. Cleanup
// is best-effort and never sits on the request path.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	grace    time.Duration
	logger   *logging.Logger
}

// NewSweeper creates a sweeper that runs every interval and removes records
// whose deadline passed more than grace ago.
func NewSweeper(repo Repository, interval, grace time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if grace < 0 {
		grace = 0
	}
	return &Sweeper{repo: repo, interval: interval, grace: grace, logger: logger}
}

// Run blocks until ctx is cancelled, sweeping on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single cleanup pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.grace)
	removed, err := s.repo.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("otp sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("otp records swept", "removed", removed)
	}
}
