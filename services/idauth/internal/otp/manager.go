// Package otp owns the one-time password lifecycle: generation with a single
// active code per user and channel, attempt-limited verification, and
// expiry cleanup.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/rate"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/google/uuid"
)

const codeDigits = 6

type Store interface {
	CreateOTP(ctx context.Context, req storage.OTPRequest) (*storage.OTPRequest, error)
	LatestActiveOTP(ctx context.Context, userID string, otpType storage.OTPType) (*storage.OTPRequest, error)
	ConsumeOTPAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, now time.Time) (*storage.OTPRequest, error)
	MarkOTPVerified(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers a code to the user over sms or email.
type Notifier interface {
	Send(ctx context.Context, channel storage.OTPType, destination, code string) error
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
}

type Manager struct {
	store    Store
	notifier Notifier
	limiter  rate.Limiter
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewManager builds a Manager. A nil limiter disables request limiting.
func NewManager(store Store, notifier Notifier, limiter rate.Limiter, cfg Config, logger *slog.Logger, metrics *Metrics) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Generate creates a fresh code for (userID, otpType), superseding any
// earlier unverified one.
func (m *Manager) Generate(ctx context.Context, userID string, otpType storage.OTPType, contact string) (*storage.OTPRequest, error) {
	if err := validate(userID, otpType); err != nil {
		return nil, err
	}
	if contact == "" {
		return nil, apperr.Validation("contact is required")
	}

	code, err := randomCode(codeDigits)
	if err != nil {
		return nil, apperr.Infra("generate otp code", err)
	}
	now := m.now()
	created, err := m.store.CreateOTP(ctx, storage.OTPRequest{
		ID:        uuid.New(),
		UserID:    userID,
		Code:      code,
		Type:      otpType,
		Contact:   contact,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	})
	if err != nil {
		return nil, apperr.Infra("store otp", err)
	}
	m.metrics.generated(otpType)
	return created, nil
}

// Dispatch hands code to the notifier. A failed dispatch invalidates
// nothing; callers retry by generating a new code.
func (m *Manager) Dispatch(ctx context.Context, contact, code string, channel storage.OTPType) error {
	if m.notifier == nil {
		return apperr.Infra("dispatch otp", fmt.Errorf("%w: no notifier configured", apperr.ErrDispatchFailed))
	}
	if err := m.notifier.Send(ctx, channel, contact, code); err != nil {
		m.metrics.dispatched(channel, false)
		m.logger.Warn("otp dispatch failed", "channel", channel, "contact", logging.Mask(contact, 4), "error", err)
		return &apperr.Error{
			Kind:    apperr.KindInfrastructure,
			Code:    apperr.CodeDispatchFailed,
			Message: "dispatch otp",
			Err:     fmt.Errorf("%w: %w", apperr.ErrDispatchFailed, err),
		}
	}
	m.metrics.dispatched(channel, true)
	return nil
}

// Request rate-limits, generates and dispatches a code. The returned
// request never carries the code.
func (m *Manager) Request(ctx context.Context, userID string, otpType storage.OTPType, contact string) (*storage.OTPRequest, error) {
	if err := validate(userID, otpType); err != nil {
		return nil, err
	}
	if m.limiter != nil {
		allowed, retryAfter, err := m.limiter.Allow(ctx, userID+":"+string(otpType), m.now())
		if err != nil {
			return nil, apperr.Infra("rate limit otp request", err)
		}
		if !allowed {
			m.metrics.rateLimited()
			return nil, apperr.NewRateLimited(int(math.Ceil(retryAfter.Seconds())))
		}
	}

	created, err := m.Generate(ctx, userID, otpType, contact)
	if err != nil {
		return nil, err
	}
	if err := m.Dispatch(ctx, created.Contact, created.Code, created.Type); err != nil {
		return nil, err
	}
	out := *created
	out.Code = ""
	return &out, nil
}

// Verify checks code against the newest unverified OTP. An attempt is
// consumed before the comparison, so once MaxAttempts are used a correct
// code is still rejected.
func (m *Manager) Verify(ctx context.Context, userID, code string, otpType storage.OTPType) (bool, error) {
	if err := validate(userID, otpType); err != nil {
		return false, err
	}

	current, err := m.store.LatestActiveOTP(ctx, userID, otpType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.metrics.verified("missing")
			return false, nil
		}
		return false, apperr.Infra("load otp", err)
	}

	now := m.now()
	if !now.Before(current.ExpiresAt) {
		m.metrics.verified("expired")
		return false, nil
	}
	if current.Attempts >= m.cfg.MaxAttempts {
		m.metrics.verified("exhausted")
		return false, nil
	}

	attempted, err := m.store.ConsumeOTPAttempt(ctx, current.ID, m.cfg.MaxAttempts, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Another verify used the last attempt, or a newer code superseded this one.
			m.metrics.verified("exhausted")
			return false, nil
		}
		return false, apperr.Infra("consume otp attempt", err)
	}

	if subtle.ConstantTimeCompare([]byte(attempted.Code), []byte(code)) != 1 {
		m.metrics.verified("mismatch")
		return false, nil
	}

	ok, err := m.store.MarkOTPVerified(ctx, attempted.ID, now)
	if err != nil {
		return false, apperr.Infra("mark otp verified", err)
	}
	if !ok {
		m.metrics.verified("superseded")
		return false, nil
	}
	m.metrics.verified("success")
	return true, nil
}

// Cleanup removes every OTP row past its expiry.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredOTPs(ctx, m.now())
	if err != nil {
		return 0, apperr.Infra("cleanup otps", err)
	}
	if n > 0 {
		m.logger.Info("expired otps removed", "count", n)
	}
	return n, nil
}

func validate(userID string, otpType storage.OTPType) error {
	if userID == "" {
		return apperr.Validation("user_id is required")
	}
	if !otpType.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown otp type %q", otpType))
	}
	return nil
}

func randomCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
