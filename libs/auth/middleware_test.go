package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRouter(v *Verifier, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(v))
	r.Use(extra...)
	r.GET("/me", func(c *gin.Context) { c.JSON(200, gin.H{"user": c.GetString(ContextUserIDKey)}) })
	return r
}

func do(r http.Handler, token string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	r := newRouter(NewVerifier([]byte("secret"), ""))
	if code := do(r, ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	r := newRouter(NewVerifier([]byte("secret"), "idauth"))
	signed, err := Sign([]byte("secret"), "idauth", "user-123", nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if code := do(r, signed); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestMiddlewareRejectsWrongIssuerAndExpired(t *testing.T) {
	r := newRouter(NewVerifier([]byte("secret"), "idauth"))

	other, _ := Sign([]byte("secret"), "someone-else", "user-123", nil, time.Hour)
	if code := do(r, other); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong issuer, got %d", code)
	}
	expired, _ := Sign([]byte("secret"), "idauth", "user-123", nil, -time.Minute)
	if code := do(r, expired); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", code)
	}
	forged, _ := Sign([]byte("other-secret"), "idauth", "user-123", nil, time.Hour)
	if code := do(r, forged); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", code)
	}
}

func TestRequireRole(t *testing.T) {
	r := newRouter(NewVerifier([]byte("secret"), ""), RequireRole(RoleAdmin))

	resident, _ := Sign([]byte("secret"), "", "user-1", []string{"resident"}, time.Hour)
	if code := do(r, resident); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	admin, _ := Sign([]byte("secret"), "", "ops-1", []string{RoleAdmin}, time.Hour)
	if code := do(r, admin); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}
