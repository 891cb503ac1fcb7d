package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AROSTA-MOSTER/datakomeza/libs/apikey"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/partners"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/gin-gonic/gin"
)

const (
	APIKeyHeader        = "X-API-Key"
	contextPartnerIDKey = "partner_id"
)

type PartnerAuthenticator interface {
	Authenticate(ctx context.Context, key, clientIP string) (*storage.Partner, error)
}

// PartnerMiddleware admits requests carrying the API key of an active
// partner and stores the partner id on the context.
func PartnerMiddleware(registry PartnerAuthenticator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "missing api key"})
			return
		}

		partner, err := registry.Authenticate(c.Request.Context(), key, c.ClientIP())
		switch {
		case errors.Is(err, apikey.ErrInvalidKey), errors.Is(err, partners.ErrUnknownKey):
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid api key"})
			return
		case errors.Is(err, apikey.ErrIPNotAllowed):
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Code: apperr.CodeForbidden, Message: "ip not allowed"})
			return
		case err != nil:
			logger.Error("partner lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Code: apperr.CodeUnavailable, Message: "service unavailable"})
			return
		case partner.Status != storage.PartnerStatusActive:
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Code: apperr.CodeInvalidPartner, Message: "partner is not active"})
			return
		}

		c.Set(contextPartnerIDKey, partner.ID)
		c.Next()
	}
}

func partnerIDFromContext(c *gin.Context) string {
	return c.GetString(contextPartnerIDKey)
}
