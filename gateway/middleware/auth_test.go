package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "bazaar-test",
	}, nil)
}

func protected(auth *Authenticator, scopes ...string) (http.Handler, *bool, *[20]byte) {
	reached := new(bool)
	caller := new([20]byte)
	handler := auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		if got, ok := CallerFromContext(r.Context()); ok {
			*caller = got
		}
		w.WriteHeader(http.StatusOK)
	}))
	return handler, reached, caller
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := newAuth(t)
	handler, reached, caller := protected(auth)

	token := signToken(t, jwt.MapClaims{
		"sub": "0x0000000000000000000000000000000000000001",
		"iss": "bazaar-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, *reached)
	require.EqualValues(t, 1, caller[19])
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	auth := newAuth(t)
	handler, reached, _ := protected(auth)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, *reached)
}

func TestAuthenticatorRejectsWrongIssuer(t *testing.T) {
	auth := newAuth(t)
	handler, reached, _ := protected(auth)

	token := signToken(t, jwt.MapClaims{
		"sub": "0x0000000000000000000000000000000000000001",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, *reached)
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := newAuth(t)
	handler, reached, _ := protected(auth)

	token := signToken(t, jwt.MapClaims{
		"sub": "0x0000000000000000000000000000000000000001",
		"iss": "bazaar-test",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, *reached)
}

func TestAuthenticatorEnforcesScopes(t *testing.T) {
	auth := newAuth(t)
	handler, reached, _ := protected(auth, ScopeAdmin)

	token := signToken(t, jwt.MapClaims{
		"sub":   "0x0000000000000000000000000000000000000001",
		"iss":   "bazaar-test",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "trade",
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, *reached)

	token = signToken(t, jwt.MapClaims{
		"sub":   "0x0000000000000000000000000000000000000001",
		"iss":   "bazaar-test",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "trade admin",
	})
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, *reached)
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	handler, reached, _ := protected(auth)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, *reached)
}
