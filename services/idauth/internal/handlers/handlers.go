package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/auth"
	"github.com/AROSTA-MOSTER/datakomeza/libs/logging"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/authn"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/demographic"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/psut"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Service interface {
	RequestOTP(ctx context.Context, userID string, otpType storage.OTPType, contact string) (authn.Result, error)
	AuthenticateOTP(ctx context.Context, userID, code string, otpType storage.OTPType) (authn.Result, error)
	AuthenticateDemographic(ctx context.Context, userID string, claimed demographic.Record) (authn.Result, error)
	AuthenticateBiometric(ctx context.Context, userID, sample string, modality storage.Modality) (authn.Result, error)
	AuthenticateEKYC(ctx context.Context, userID, partnerID, policyID string) (authn.Result, error)
	ValidateToken(ctx context.Context, token, partnerID string) (psut.Validation, error)
	RevokeToken(ctx context.Context, userID, partnerID, reason string) error
	SetLock(ctx context.Context, userID string, authType storage.AuthType, modality storage.Modality, locked bool) (*storage.AuthLock, error)
	CleanupOTPs(ctx context.Context) (int64, error)
	SweepTokens(ctx context.Context) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]storage.AuthLog, error)
}

type Handler struct {
	Service  Service
	Partners PartnerAuthenticator
	Logger   *slog.Logger
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(service Service, partners PartnerAuthenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{Service: service, Partners: partners, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, verifier *auth.Verifier) {
	v1 := r.Group("/v1")
	v1.POST("/otp/request", h.RequestOTP)
	v1.POST("/auth/otp", h.AuthenticateOTP)
	v1.POST("/auth/demographic", h.AuthenticateDemographic)
	v1.POST("/auth/biometric", h.AuthenticateBiometric)

	partner := v1.Group("/", PartnerMiddleware(h.Partners, h.Logger))
	partner.POST("/ekyc", h.EKYC)
	partner.POST("/tokens/validate", h.ValidateToken)

	user := v1.Group("/", auth.Middleware(verifier))
	user.POST("/tokens/revoke", h.RevokeToken)
	user.PUT("/locks", h.SetLock)
	user.GET("/auth/history", h.History)

	admin := v1.Group("/admin", auth.Middleware(verifier), auth.RequireRole(auth.RoleAdmin))
	admin.POST("/otp/cleanup", h.CleanupOTPs)
	admin.POST("/tokens/sweep", h.SweepTokens)
}

// otpRequestBody carries an optional contact. When set it must match the
// destination registered for the user; the code is never sent elsewhere.
type otpRequestBody struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Contact string `json:"contact"`
}

type otpRequestResponse struct {
	Success   bool       `json:"success"`
	Reason    string     `json:"reason,omitempty"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`
	ExpiresAt string     `json:"expires_at,omitempty"`
}

func (h *Handler) RequestOTP(c *gin.Context) {
	var body otpRequestBody
	if !bind(c, &body) {
		return
	}
	res, err := h.Service.RequestOTP(c.Request.Context(), body.UserID, storage.OTPType(body.Type), body.Contact)
	if err != nil {
		h.writeError(c, "otp request", err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusOK, otpRequestResponse{Reason: res.Reason})
		return
	}
	resp := otpRequestResponse{Success: true}
	if res.OTP != nil {
		id := res.OTP.ID
		resp.RequestID = &id
		resp.ExpiresAt = res.OTP.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusAccepted, resp)
}

type otpAuthBody struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
	Type   string `json:"type"`
}

type authResponse struct {
	Success bool     `json:"success"`
	Reason  string   `json:"reason,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

func (h *Handler) AuthenticateOTP(c *gin.Context) {
	var body otpAuthBody
	if !bind(c, &body) {
		return
	}
	res, err := h.Service.AuthenticateOTP(c.Request.Context(), body.UserID, body.Code, storage.OTPType(body.Type))
	if err != nil {
		h.writeError(c, "otp authentication", err)
		return
	}
	c.JSON(http.StatusOK, toAuthResponse(res))
}

type demographicBody struct {
	UserID      string `json:"user_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

func (h *Handler) AuthenticateDemographic(c *gin.Context) {
	var body demographicBody
	if !bind(c, &body) {
		return
	}
	res, err := h.Service.AuthenticateDemographic(c.Request.Context(), body.UserID, demographic.Record{
		FirstName:   body.FirstName,
		LastName:    body.LastName,
		DateOfBirth: body.DateOfBirth,
		Phone:       body.Phone,
		Email:       body.Email,
	})
	if err != nil {
		h.writeError(c, "demographic authentication", err)
		return
	}
	c.JSON(http.StatusOK, toAuthResponse(res))
}

type biometricBody struct {
	UserID   string `json:"user_id"`
	Sample   string `json:"sample"`
	Modality string `json:"modality"`
}

func (h *Handler) AuthenticateBiometric(c *gin.Context) {
	var body biometricBody
	if !bind(c, &body) {
		return
	}
	res, err := h.Service.AuthenticateBiometric(c.Request.Context(), body.UserID, body.Sample, storage.Modality(body.Modality))
	if err != nil {
		h.writeError(c, "biometric authentication", err)
		return
	}
	c.JSON(http.StatusOK, toAuthResponse(res))
}

type ekycBody struct {
	UserID   string `json:"user_id"`
	PolicyID string `json:"policy_id"`
}

type ekycResponse struct {
	Success          bool   `json:"success"`
	Reason           string `json:"reason,omitempty"`
	Token            string `json:"token,omitempty"`
	TokenExpiresAt   string `json:"token_expires_at,omitempty"`
	EncryptedPayload string `json:"encrypted_payload,omitempty"`
}

func (h *Handler) EKYC(c *gin.Context) {
	var body ekycBody
	if !bind(c, &body) {
		return
	}
	res, err := h.Service.AuthenticateEKYC(c.Request.Context(), body.UserID, partnerIDFromContext(c), body.PolicyID)
	if err != nil {
		h.writeError(c, "ekyc", err)
		return
	}
	resp := ekycResponse{Success: res.Success, Reason: res.Reason, EncryptedPayload: res.EncryptedPayload}
	if res.Token != nil {
		resp.Token = res.Token.Token
		resp.TokenExpiresAt = res.Token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

type validateBody struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
	Status string `json:"status,omitempty"`
}

func (h *Handler) ValidateToken(c *gin.Context) {
	var body validateBody
	if !bind(c, &body) {
		return
	}
	v, err := h.Service.ValidateToken(c.Request.Context(), body.Token, partnerIDFromContext(c))
	if err != nil {
		h.writeError(c, "token validation", err)
		return
	}
	c.JSON(http.StatusOK, validateResponse{Valid: v.Valid, UserID: v.UserID, Reason: v.Reason, Status: string(v.Status)})
}

type revokeBody struct {
	UserID    string `json:"user_id"`
	PartnerID string `json:"partner_id"`
	Reason    string `json:"reason"`
}

func (h *Handler) RevokeToken(c *gin.Context) {
	var body revokeBody
	if !bind(c, &body) {
		return
	}
	userID, ok := actingUser(c, body.UserID)
	if !ok {
		return
	}
	if err := h.Service.RevokeToken(c.Request.Context(), userID, body.PartnerID, body.Reason); err != nil {
		h.writeError(c, "token revoke", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type lockBody struct {
	UserID   string `json:"user_id"`
	AuthType string `json:"auth_type"`
	Modality string `json:"modality"`
	Locked   bool   `json:"locked"`
}

type lockResponse struct {
	UserID     string `json:"user_id"`
	AuthType   string `json:"auth_type"`
	Modality   string `json:"modality,omitempty"`
	Locked     bool   `json:"locked"`
	LockedAt   string `json:"locked_at,omitempty"`
	UnlockedAt string `json:"unlocked_at,omitempty"`
}

func (h *Handler) SetLock(c *gin.Context) {
	var body lockBody
	if !bind(c, &body) {
		return
	}
	userID, ok := actingUser(c, body.UserID)
	if !ok {
		return
	}
	lock, err := h.Service.SetLock(c.Request.Context(), userID, storage.AuthType(body.AuthType), storage.Modality(body.Modality), body.Locked)
	if err != nil {
		h.writeError(c, "set lock", err)
		return
	}
	c.JSON(http.StatusOK, lockResponse{
		UserID:     lock.UserID,
		AuthType:   string(lock.AuthType),
		Modality:   string(lock.Modality),
		Locked:     lock.IsLocked,
		LockedAt:   formatTime(lock.LockedAt),
		UnlockedAt: formatTime(lock.UnlockedAt),
	})
}

type historyEntry struct {
	ID            uuid.UUID `json:"id"`
	AuthType      string    `json:"auth_type"`
	Status        string    `json:"status"`
	PartnerID     *string   `json:"partner_id,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     string    `json:"created_at"`
}

type historyResponse struct {
	Entries []historyEntry `json:"entries"`
}

func (h *Handler) History(c *gin.Context) {
	userID, ok := actingUser(c, c.Query("user_id"))
	if !ok {
		return
	}
	logs, err := h.Service.History(c.Request.Context(), userID, parseLimit(c.Query("limit")))
	if err != nil {
		h.writeError(c, "auth history", err)
		return
	}
	resp := historyResponse{Entries: make([]historyEntry, 0, len(logs))}
	for _, l := range logs {
		resp.Entries = append(resp.Entries, historyEntry{
			ID:            l.ID,
			AuthType:      string(l.AuthType),
			Status:        string(l.Status),
			PartnerID:     l.PartnerID,
			FailureReason: l.FailureReason,
			CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

type sweepResponse struct {
	Count int64 `json:"count"`
}

func (h *Handler) CleanupOTPs(c *gin.Context) {
	n, err := h.Service.CleanupOTPs(c.Request.Context())
	if err != nil {
		h.writeError(c, "otp cleanup", err)
		return
	}
	c.JSON(http.StatusOK, sweepResponse{Count: n})
}

func (h *Handler) SweepTokens(c *gin.Context) {
	n, err := h.Service.SweepTokens(c.Request.Context())
	if err != nil {
		h.writeError(c, "token sweep", err)
		return
	}
	c.JSON(http.StatusOK, sweepResponse{Count: n})
}

func (h *Handler) writeError(c *gin.Context, op string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		c.JSON(http.StatusBadRequest, errorResponse{Code: apperr.CodeInvalidRequest, Message: messageOf(err)})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, errorResponse{Code: apperr.CodeNotFound, Message: messageOf(err)})
	case apperr.KindPolicy:
		var limited *apperr.RateLimited
		if errors.As(err, &limited) {
			c.Header("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
			c.JSON(http.StatusTooManyRequests, errorResponse{Code: apperr.CodeRateLimited, Message: messageOf(err)})
			return
		}
		code := apperr.CodeOf(err)
		if code == "" {
			code = apperr.CodeForbidden
		}
		c.JSON(http.StatusForbidden, errorResponse{Code: code, Message: messageOf(err)})
	case apperr.KindInfrastructure:
		h.Logger.Error(op+" failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, errorResponse{Code: apperr.CodeUnavailable, Message: "service unavailable"})
	default:
		h.Logger.Error(op+" failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}

func messageOf(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "request failed"
}

func toAuthResponse(res authn.Result) authResponse {
	return authResponse{Success: res.Success, Reason: res.Reason, Score: res.Score}
}

func bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: apperr.CodeInvalidRequest, Message: "invalid json body"})
		return false
	}
	return true
}

// actingUser resolves whose data a bearer request touches. Residents act
// on themselves; admins may name any user.
func actingUser(c *gin.Context, requested string) (string, bool) {
	claims := auth.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing user"})
		return "", false
	}
	if requested == "" || requested == claims.Subject {
		return claims.Subject, true
	}
	if claims.HasRole(auth.RoleAdmin) {
		return requested, true
	}
	c.JSON(http.StatusForbidden, errorResponse{Code: apperr.CodeForbidden, Message: "cannot act on another user"})
	return "", false
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return val
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
