package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/paywall/pkg/observability"
)

func newTestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	verifier := NewHMACTokenVerifier("test-secret")
	mw := NewAuthMiddleware(verifier, newTestLogger())

	var gotIdentity Identity
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		gotIdentity = id
		w.WriteHeader(http.StatusOK)
	}))

	token := verifier.IssueToken(Identity{UID: "user-123", Email: "user@example.com"})
	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/get", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-123", gotIdentity.UID)
	assert.Equal(t, "user@example.com", gotIdentity.Email)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	mw := NewAuthMiddleware(NewHMACTokenVerifier("test-secret"), newTestLogger())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/get", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareBadScheme(t *testing.T) {
	verifier := NewHMACTokenVerifier("test-secret")
	mw := NewAuthMiddleware(verifier, newTestLogger())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	token := verifier.IssueToken(Identity{UID: "user-123", Email: "user@example.com"})
	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/get", nil)
	req.Header.Set("Authorization", "Basic "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	mw := NewAuthMiddleware(NewHMACTokenVerifier("test-secret"), newTestLogger())

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/get", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
