// Package sweep periodically removes expired OTPs and expires stale
// partner tokens.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
)

const runTimeout = 30 * time.Second

type Target interface {
	CleanupOTPs(ctx context.Context) (int64, error)
	SweepTokens(ctx context.Context) (int64, error)
}

type Runner struct {
	target   Target
	interval time.Duration
	logger   *slog.Logger
}

func NewRunner(target Target, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{target: target, interval: interval, logger: logger}
}

// RunOnce performs both sweeps. A failing OTP cleanup does not skip the
// token sweep.
func (r *Runner) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	otps, otpErr := r.target.CleanupOTPs(ctx)
	if otpErr != nil {
		r.logger.Error("otp cleanup failed", "error", otpErr)
	}
	tokens, tokenErr := r.target.SweepTokens(ctx)
	if tokenErr != nil {
		r.logger.Error("token sweep failed", "error", tokenErr)
	}
	if otpErr == nil && tokenErr == nil {
		r.logger.Debug("sweep finished", "otps_removed", otps, "tokens_expired", tokens)
	}
	return errors.Join(otpErr, tokenErr)
}

// Run blocks until ctx is done. A non-positive interval returns at once.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.RunOnce(ctx)
		}
	}
}
