package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalloyce/optifluenceLMS/internal/config"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestActorMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	var gotActor string
	handler := ActorMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = Actor(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/loans/1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "officer-9"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "officer-9", gotActor)
}

func TestActorMiddlewareRejects(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	handler := ActorMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	// No header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong secret.
	req := httptest.NewRequest(http.MethodGet, "/loans/1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "officer-9"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Expired token.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "officer-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/loans/1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
