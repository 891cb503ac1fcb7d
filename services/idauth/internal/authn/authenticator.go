// Package authn runs authentication attempts end to end. Every attempt is
// lock checked first; executed attempts are written to the audit trail,
// lock rejections are not.
package authn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/libs/trace"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/audit"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/clients"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/demographic"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/psut"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
)

const (
	ReasonInvalidOTP          = "Invalid OTP"
	ReasonBiometricMismatch   = "Biometric verification failed"
	ReasonDemographicNotFound = "Demographic record not found"
	ReasonInvalidPartner      = "Invalid partner"
)

type OTPService interface {
	Request(ctx context.Context, userID string, otpType storage.OTPType, contact string) (*storage.OTPRequest, error)
	Verify(ctx context.Context, userID, code string, otpType storage.OTPType) (bool, error)
	Cleanup(ctx context.Context) (int64, error)
}

type TokenIssuer interface {
	IssueOrReuse(ctx context.Context, userID, partnerID string, expiryDays int) (*storage.PartnerToken, error)
	Validate(ctx context.Context, token, partnerID string) (psut.Validation, error)
	Revoke(ctx context.Context, userID, partnerID, reason string) error
	SweepExpired(ctx context.Context) (int64, error)
}

type LockStore interface {
	GetLock(ctx context.Context, userID string, authType storage.AuthType, modality storage.Modality) (*storage.AuthLock, error)
	SetLock(ctx context.Context, userID string, authType storage.AuthType, modality storage.Modality, locked bool, now time.Time) (*storage.AuthLock, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
	History(ctx context.Context, userID string, limit int) ([]storage.AuthLog, error)
}

type DemographicStore interface {
	GetDemographic(ctx context.Context, userID string) (*storage.DemographicRecord, error)
}

type BiometricVerifier interface {
	Verify(ctx context.Context, userID, sample, modality string) (clients.BiometricResult, error)
}

type EKYCProvider interface {
	BuildResponse(ctx context.Context, userID, partnerID, policyID string) (clients.EKYCResponse, error)
}

type PartnerRegistry interface {
	GetPartner(ctx context.Context, id string) (*storage.Partner, error)
}

type Deps struct {
	OTP          OTPService
	Tokens       TokenIssuer
	Locks        LockStore
	Audit        AuditRecorder
	Demographics DemographicStore
	Biometric    BiometricVerifier
	EKYC         EKYCProvider
	Partners     PartnerRegistry
}

// Result is the outcome of an attempt. Failed authentication is a Result,
// never an error.
type Result struct {
	Success          bool
	Reason           string
	Score            *float64
	Token            *storage.PartnerToken
	EncryptedPayload string
	OTP              *storage.OTPRequest
}

const tracerName = "idauth/authn"

type Authenticator struct {
	deps        Deps
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// New builds an Authenticator. callTimeout bounds each operation on top of
// the caller's deadline; zero leaves only the caller's deadline.
func New(deps Deps, callTimeout time.Duration, logger *slog.Logger, metrics *Metrics) *Authenticator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Authenticator{
		deps:        deps,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RequestOTP issues and dispatches a code unless OTP authentication is
// locked. The code always goes to the phone or email on the user's record;
// a non-empty contact must match that destination. On success Result.OTP
// describes the request without its code.
func (a *Authenticator) RequestOTP(ctx context.Context, userID string, otpType storage.OTPType, contact string) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if !otpType.Valid() {
		return Result{}, apperr.Validation(fmt.Sprintf("unknown otp type %q", otpType))
	}
	ctx, cancel := a.bound(ctx, "authn.RequestOTP")
	defer cancel()

	if res, err := a.checkLock(ctx, userID, storage.AuthTypeOTP, storage.ModalityNone); res != nil || err != nil {
		return deref(res), err
	}
	destination, err := a.registeredContact(ctx, userID, otpType, contact)
	if err != nil {
		return Result{}, err
	}
	req, err := a.deps.OTP.Request(ctx, userID, otpType, destination)
	if err != nil {
		return Result{}, apperr.Wrap("request otp", err)
	}
	return Result{Success: true, OTP: req}, nil
}

func (a *Authenticator) AuthenticateOTP(ctx context.Context, userID, code string, otpType storage.OTPType) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if !otpType.Valid() {
		return Result{}, apperr.Validation(fmt.Sprintf("unknown otp type %q", otpType))
	}
	ctx, cancel := a.bound(ctx, "authn.AuthenticateOTP")
	defer cancel()

	entry := audit.Entry{UserID: userID, AuthType: storage.AuthTypeOTP}
	if res, err := a.checkLock(ctx, userID, entry.AuthType, storage.ModalityNone); res != nil || err != nil {
		return deref(res), err
	}

	ok, err := a.deps.OTP.Verify(ctx, userID, code, otpType)
	if err != nil {
		return Result{}, a.fail(ctx, entry, "verify otp", err)
	}
	if !ok {
		return a.reject(ctx, entry, ReasonInvalidOTP), nil
	}
	return a.accept(ctx, entry), nil
}

func (a *Authenticator) AuthenticateDemographic(ctx context.Context, userID string, claimed demographic.Record) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	ctx, cancel := a.bound(ctx, "authn.AuthenticateDemographic")
	defer cancel()

	entry := audit.Entry{UserID: userID, AuthType: storage.AuthTypeDemographic}
	if res, err := a.checkLock(ctx, userID, entry.AuthType, storage.ModalityNone); res != nil || err != nil {
		return deref(res), err
	}

	onFile, err := a.deps.Demographics.GetDemographic(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.reject(ctx, entry, ReasonDemographicNotFound)
			return Result{}, apperr.NotFound("no demographic record for user", err)
		}
		return Result{}, a.fail(ctx, entry, "load demographic record", err)
	}

	score := demographic.Match(demographic.Record{
		FirstName:   onFile.FirstName,
		LastName:    onFile.LastName,
		DateOfBirth: onFile.DateOfBirth,
		Phone:       onFile.Phone,
		Email:       onFile.Email,
	}, claimed)
	total := score.TotalFloat()

	var res Result
	if score.Authenticated {
		res = a.accept(ctx, entry)
	} else {
		res = a.reject(ctx, entry, fmt.Sprintf("Demographic match score %s below threshold", score.Total.StringFixed(2)))
	}
	res.Score = &total
	return res, nil
}

func (a *Authenticator) AuthenticateBiometric(ctx context.Context, userID, sample string, modality storage.Modality) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if !modality.Valid() {
		return Result{}, apperr.Validation(fmt.Sprintf("unknown biometric modality %q", modality))
	}
	if sample == "" {
		return Result{}, apperr.Validation("sample is required")
	}
	ctx, cancel := a.bound(ctx, "authn.AuthenticateBiometric")
	defer cancel()

	entry := audit.Entry{UserID: userID, AuthType: storage.AuthTypeBiometric}
	if res, err := a.checkLock(ctx, userID, entry.AuthType, modality); res != nil || err != nil {
		return deref(res), err
	}

	out, err := a.deps.Biometric.Verify(ctx, userID, sample, string(modality))
	if err != nil {
		return Result{}, a.fail(ctx, entry, "verify biometric", err)
	}
	var res Result
	if out.Success {
		res = a.accept(ctx, entry)
	} else {
		res = a.reject(ctx, entry, ReasonBiometricMismatch)
	}
	res.Score = out.Score
	return res, nil
}

// AuthenticateEKYC releases the encrypted identity payload to an active
// partner together with the user's token for that partner.
func (a *Authenticator) AuthenticateEKYC(ctx context.Context, userID, partnerID, policyID string) (Result, error) {
	if err := requireUser(userID); err != nil {
		return Result{}, err
	}
	if partnerID == "" {
		return Result{}, apperr.Validation("partner_id is required")
	}
	ctx, cancel := a.bound(ctx, "authn.AuthenticateEKYC")
	defer cancel()

	entry := audit.Entry{UserID: userID, AuthType: storage.AuthTypeEKYC}
	if res, err := a.checkLock(ctx, userID, entry.AuthType, storage.ModalityNone); res != nil || err != nil {
		return deref(res), err
	}

	partner, err := a.deps.Partners.GetPartner(ctx, partnerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a.reject(ctx, entry, ReasonInvalidPartner)
		return Result{}, apperr.Policy(apperr.CodeInvalidPartner, "unknown partner", apperr.ErrInvalidPartner)
	case err != nil:
		return Result{}, a.fail(ctx, entry, "load partner", err)
	case partner.Status != storage.PartnerStatusActive:
		a.reject(ctx, entry, ReasonInvalidPartner)
		return Result{}, apperr.Policy(apperr.CodeInvalidPartner, fmt.Sprintf("partner is %s", partner.Status), apperr.ErrInvalidPartner)
	}
	entry.PartnerID = partner.ID

	payload, err := a.deps.EKYC.BuildResponse(ctx, userID, partner.ID, policyID)
	if err != nil {
		return Result{}, a.fail(ctx, entry, "build ekyc response", err)
	}
	token, err := a.deps.Tokens.IssueOrReuse(ctx, userID, partner.ID, 0)
	if err != nil {
		return Result{}, a.fail(ctx, entry, "issue partner token", err)
	}

	res := a.accept(ctx, entry)
	res.Token = token
	res.EncryptedPayload = payload.EncryptedPayload
	return res, nil
}

func (a *Authenticator) ValidateToken(ctx context.Context, token, partnerID string) (psut.Validation, error) {
	ctx, cancel := a.bound(ctx, "authn.ValidateToken")
	defer cancel()
	v, err := a.deps.Tokens.Validate(ctx, token, partnerID)
	return v, apperr.Wrap("validate token", err)
}

func (a *Authenticator) RevokeToken(ctx context.Context, userID, partnerID, reason string) error {
	ctx, cancel := a.bound(ctx, "authn.RevokeToken")
	defer cancel()
	return apperr.Wrap("revoke token", a.deps.Tokens.Revoke(ctx, userID, partnerID, reason))
}

func (a *Authenticator) CleanupOTPs(ctx context.Context) (int64, error) {
	n, err := a.deps.OTP.Cleanup(ctx)
	return n, apperr.Wrap("cleanup otps", err)
}

func (a *Authenticator) SweepTokens(ctx context.Context) (int64, error) {
	n, err := a.deps.Tokens.SweepExpired(ctx)
	return n, apperr.Wrap("sweep tokens", err)
}

// SetLock locks or unlocks one method for a user. Biometric locks need a
// modality; every other method must not carry one.
func (a *Authenticator) SetLock(ctx context.Context, userID string, authType storage.AuthType, modality storage.Modality, locked bool) (*storage.AuthLock, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := validateLockScope(authType, modality); err != nil {
		return nil, err
	}
	ctx, cancel := a.bound(ctx, "authn.SetLock")
	defer cancel()

	lock, err := a.deps.Locks.SetLock(ctx, userID, authType, modality, locked, a.now())
	if err != nil {
		return nil, apperr.Infra("set auth lock", err)
	}
	a.logger.Info("auth lock updated", "auth_type", authType, "modality", modality, "locked", locked)
	return lock, nil
}

func (a *Authenticator) History(ctx context.Context, userID string, limit int) ([]storage.AuthLog, error) {
	ctx, cancel := a.bound(ctx, "authn.History")
	defer cancel()
	return a.deps.Audit.History(ctx, userID, limit)
}

// bound opens a span named op and applies the per-call timeout. The
// returned func cancels the context and ends the span.
func (a *Authenticator) bound(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	ctx, span := trace.Start(ctx, tracerName, op)
	var cancel context.CancelFunc
	if a.callTimeout <= 0 {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, a.callTimeout)
	}
	return ctx, func() {
		cancel()
		span.End()
	}
}

// checkLock returns a non-nil Result when the method is locked.
func (a *Authenticator) checkLock(ctx context.Context, userID string, authType storage.AuthType, modality storage.Modality) (*Result, error) {
	lock, err := a.deps.Locks.GetLock(ctx, userID, authType, modality)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		a.metrics.attempt(authType, outcomeError)
		return nil, apperr.Infra("load auth lock", err)
	}
	if !lock.IsLocked {
		return nil, nil
	}
	a.metrics.attempt(authType, outcomeLocked)
	return &Result{Reason: lockedReason(authType, modality)}, nil
}

func (a *Authenticator) accept(ctx context.Context, entry audit.Entry) Result {
	entry.Success = true
	entry.FailureReason = ""
	a.deps.Audit.Record(ctx, entry)
	a.metrics.attempt(entry.AuthType, outcomeSuccess)
	return Result{Success: true}
}

func (a *Authenticator) reject(ctx context.Context, entry audit.Entry, reason string) Result {
	entry.Success = false
	entry.FailureReason = reason
	a.deps.Audit.Record(ctx, entry)
	a.metrics.attempt(entry.AuthType, outcomeFailed)
	return Result{Reason: reason}
}

// fail records an attempt that could not complete. Validation errors from
// collaborators are returned as-is without an audit row.
func (a *Authenticator) fail(ctx context.Context, entry audit.Entry, msg string, err error) error {
	wrapped := apperr.Wrap(msg, err)
	if apperr.KindOf(wrapped) == apperr.KindValidation {
		return wrapped
	}
	detail := msg
	if errors.Is(err, context.DeadlineExceeded) {
		detail = msg + ": timeout"
	}
	entry.Success = false
	entry.FailureReason = "error: " + detail
	a.deps.Audit.Record(ctx, entry)
	a.metrics.attempt(entry.AuthType, outcomeError)
	a.logger.Error("authentication attempt failed", "auth_type", entry.AuthType, "error", err)
	return wrapped
}

func (a *Authenticator) registeredContact(ctx context.Context, userID string, otpType storage.OTPType, claimed string) (string, error) {
	rec, err := a.deps.Demographics.GetDemographic(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound("no registered contact for user", err)
	}
	if err != nil {
		return "", apperr.Wrap("load registered contact", err)
	}

	onFile := rec.Phone
	if otpType == storage.OTPTypeEmail {
		onFile = rec.Email
	}
	onFile = strings.TrimSpace(onFile)
	if onFile == "" {
		return "", apperr.Validation(fmt.Sprintf("no %s destination registered for user", otpType))
	}
	if claimed != "" && normalizeContact(otpType, claimed) != normalizeContact(otpType, onFile) {
		a.logger.Warn("otp request contact mismatch", "user_id", userID, "type", otpType)
		return "", apperr.Validation("contact does not match the registered destination")
	}
	return onFile, nil
}

// normalizeContact folds case for emails and drops phone punctuation.
func normalizeContact(otpType storage.OTPType, v string) string {
	v = strings.TrimSpace(v)
	if otpType == storage.OTPTypeEmail {
		return strings.ToLower(v)
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, v)
}

func lockedReason(authType storage.AuthType, modality storage.Modality) string {
	switch authType {
	case storage.AuthTypeOTP:
		return "OTP authentication is locked"
	case storage.AuthTypeDemographic:
		return "Demographic authentication is locked"
	case storage.AuthTypeBiometric:
		return fmt.Sprintf("Biometric %s authentication is locked", modality)
	case storage.AuthTypeEKYC:
		return "e-KYC authentication is locked"
	default:
		return fmt.Sprintf("%s authentication is locked", authType)
	}
}

func validateLockScope(authType storage.AuthType, modality storage.Modality) error {
	if !authType.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown auth type %q", authType))
	}
	if authType == storage.AuthTypeBiometric {
		if !modality.Valid() {
			return apperr.Validation(fmt.Sprintf("unknown biometric modality %q", modality))
		}
		return nil
	}
	if modality != storage.ModalityNone {
		return apperr.Validation("modality applies to biometric locks only")
	}
	return nil
}

func requireUser(userID string) error {
	if userID == "" {
		return apperr.Validation("user_id is required")
	}
	return nil
}

func deref(r *Result) Result {
	if r == nil {
		return Result{}
	}
	return *r
}
