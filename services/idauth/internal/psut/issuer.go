// Package psut issues and validates partner-specific user tokens. A user
// holds at most one active token per partner; the token string stays stable
// until it expires or is revoked.
package psut

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
)

const (
	tokenPrefix     = "psut_"
	digestBytes     = 16
	randomBytes     = 16
	maxIssueRetries = 3
)

const (
	ReasonNotFound    = "not_found"
	ReasonWrongStatus = "wrong_status"
	ReasonExpired     = "expired"
)

type Store interface {
	GetToken(ctx context.Context, token string) (*storage.PartnerToken, error)
	GetActiveToken(ctx context.Context, userID, partnerID string) (*storage.PartnerToken, error)
	InsertToken(ctx context.Context, t storage.PartnerToken) (bool, error)
	TouchToken(ctx context.Context, token string, now time.Time) (*storage.PartnerToken, error)
	ExpireToken(ctx context.Context, token string) error
	RevokeActiveToken(ctx context.Context, userID, partnerID, reason string, now time.Time) (*storage.PartnerToken, error)
	ExpireTokensBefore(ctx context.Context, now time.Time) (int64, error)
}

// Validation is the outcome of Validate. UserID is empty unless Valid.
type Validation struct {
	Valid  bool
	UserID string
	Reason string
	Status storage.TokenStatus
}

type Issuer struct {
	store             Store
	defaultExpiryDays int
	logger            *slog.Logger
	now               func() time.Time
}

func NewIssuer(store Store, defaultExpiryDays int, logger *slog.Logger) *Issuer {
	if defaultExpiryDays <= 0 {
		defaultExpiryDays = 30
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Issuer{
		store:             store,
		defaultExpiryDays: defaultExpiryDays,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// IssueOrReuse returns the live active token for the pair, recording the
// use, or mints a new one. expiryDays <= 0 uses the default.
func (i *Issuer) IssueOrReuse(ctx context.Context, userID, partnerID string, expiryDays int) (*storage.PartnerToken, error) {
	if userID == "" || partnerID == "" {
		return nil, apperr.Validation("user_id and partner_id are required")
	}
	if expiryDays <= 0 {
		expiryDays = i.defaultExpiryDays
	}

	for attempt := 0; attempt < maxIssueRetries; attempt++ {
		now := i.now()
		current, err := i.store.GetActiveToken(ctx, userID, partnerID)
		switch {
		case err == nil && now.Before(current.ExpiresAt):
			touched, err := i.store.TouchToken(ctx, current.Token, now)
			if err == nil {
				return touched, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, apperr.Infra("record token use", err)
			}
			// Expired or revoked between the read and the touch.
			continue
		case err == nil:
			if err := i.store.ExpireToken(ctx, current.Token); err != nil {
				return nil, apperr.Infra("expire token", err)
			}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, apperr.Infra("load active token", err)
		}

		token, err := newToken(userID, partnerID, now)
		if err != nil {
			return nil, apperr.Infra("generate token", err)
		}
		fresh := storage.PartnerToken{
			Token:     token,
			UserID:    userID,
			PartnerID: partnerID,
			Status:    storage.TokenStatusActive,
			ExpiresAt: now.AddDate(0, 0, expiryDays),
			CreatedAt: now,
		}
		inserted, err := i.store.InsertToken(ctx, fresh)
		if err != nil {
			return nil, apperr.Infra("insert token", err)
		}
		if inserted {
			i.logger.Info("psut issued", "partner_id", partnerID, "token", logging.Mask(token, 6))
			return &fresh, nil
		}
		// A concurrent request created the active token; reuse it.
	}
	return nil, apperr.Infra("issue token", fmt.Errorf("gave up after %d conflicting attempts", maxIssueRetries))
}

// Validate checks token on behalf of partnerID. Tokens of other partners
// are reported as not found.
func (i *Issuer) Validate(ctx context.Context, token, partnerID string) (Validation, error) {
	if token == "" || partnerID == "" {
		return Validation{}, apperr.Validation("token and partner_id are required")
	}

	current, err := i.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Validation{Reason: ReasonNotFound}, nil
		}
		return Validation{}, apperr.Infra("load token", err)
	}
	if current.PartnerID != partnerID {
		return Validation{Reason: ReasonNotFound}, nil
	}
	if current.Status != storage.TokenStatusActive {
		return Validation{Reason: ReasonWrongStatus, Status: current.Status}, nil
	}

	now := i.now()
	if !now.Before(current.ExpiresAt) {
		if err := i.store.ExpireToken(ctx, token); err != nil {
			return Validation{}, apperr.Infra("expire token", err)
		}
		return Validation{Reason: ReasonExpired, Status: storage.TokenStatusExpired}, nil
	}

	touched, err := i.store.TouchToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return i.revalidate(ctx, token)
		}
		return Validation{}, apperr.Infra("record token use", err)
	}
	return Validation{Valid: true, UserID: touched.UserID, Status: touched.Status}, nil
}

// revalidate reports the state of a token that changed between read and use.
func (i *Issuer) revalidate(ctx context.Context, token string) (Validation, error) {
	current, err := i.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Validation{Reason: ReasonNotFound}, nil
		}
		return Validation{}, apperr.Infra("load token", err)
	}
	if current.Status == storage.TokenStatusActive {
		if err := i.store.ExpireToken(ctx, token); err != nil {
			return Validation{}, apperr.Infra("expire token", err)
		}
		return Validation{Reason: ReasonExpired, Status: storage.TokenStatusExpired}, nil
	}
	return Validation{Reason: ReasonWrongStatus, Status: current.Status}, nil
}

// Revoke is terminal. It fails with a not-found error when the pair has no
// active token.
func (i *Issuer) Revoke(ctx context.Context, userID, partnerID, reason string) error {
	if userID == "" || partnerID == "" {
		return apperr.Validation("user_id and partner_id are required")
	}
	if _, err := i.store.RevokeActiveToken(ctx, userID, partnerID, reason, i.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("no active token for partner", err)
		}
		return apperr.Infra("revoke token", err)
	}
	i.logger.Info("psut revoked", "partner_id", partnerID, "reason", reason)
	return nil
}

func (i *Issuer) SweepExpired(ctx context.Context) (int64, error) {
	n, err := i.store.ExpireTokensBefore(ctx, i.now())
	if err != nil {
		return 0, apperr.Infra("sweep tokens", err)
	}
	if n > 0 {
		i.logger.Info("expired psuts swept", "count", n)
	}
	return n, nil
}

// newToken joins a truncated one-way digest of the binding with fresh
// randomness, so the string cannot be inverted to the user or partner.
func newToken(userID, partnerID string, issuedAt time.Time) (string, error) {
	digest := sha256.Sum256([]byte(userID + "|" + partnerID + "|" + strconv.FormatInt(issuedAt.UnixNano(), 10)))
	random := make([]byte, randomBytes)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(digest[:digestBytes]) + hex.EncodeToString(random), nil
}
