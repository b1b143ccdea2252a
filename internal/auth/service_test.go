package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/concordpay-gateway/internal/common"
)

func TestServiceIssueAndParse(t *testing.T) {
	svc, err := NewService(Config{Secret: "host-secret", ClockSkew: time.Second})
	require.NoError(t, err)

	token, expiresAt, err := svc.IssueToken("shop-1", time.Minute)
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	subject, err := svc.ParseAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "shop-1", subject)
}

func TestServiceRejectsForeignSecretAndAudience(t *testing.T) {
	svc, err := NewService(Config{Secret: "host-secret"})
	require.NoError(t, err)

	other, err := NewService(Config{Secret: "other-secret"})
	require.NoError(t, err)
	token, _, err := other.IssueToken("shop-1", time.Minute)
	require.NoError(t, err)
	_, err = svc.ParseAccessToken(token)
	require.True(t, common.IsAppError(err))

	wrongAud, err := NewService(Config{Secret: "host-secret", Audience: "elsewhere"})
	require.NoError(t, err)
	token, _, err = wrongAud.IssueToken("shop-1", time.Minute)
	require.NoError(t, err)
	_, err = svc.ParseAccessToken(token)
	require.Error(t, err)
}

func TestServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	svc, err := NewService(Config{Secret: "host-secret"})
	require.NoError(t, err)
	token, _, err := svc.IssueToken("shop-1", time.Minute)
	require.NoError(t, err)

	var seen string
	handler := Middleware{Service: svc}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "shop-1", seen)
}
