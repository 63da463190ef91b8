package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "strafforts"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "42",
		"iss":    "strafforts",
		"scopes": []string{ScopeAthleteRead, ScopeBilling},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(signed, testConfig)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.AthleteID)
	require.True(t, claims.HasScope(ScopeAthleteRead))
	require.True(t, claims.HasScope(ScopeBilling))
	require.False(t, claims.HasScope(ScopeAthleteWrite))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "42",
		"iss":    "strafforts",
		"scopes": "athlete:read athlete:write",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(signed, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeAthleteRead))
	require.True(t, claims.HasScope(ScopeAthleteWrite))
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "42",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "42",
		"iss": "strafforts",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	_, err := Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsNonNumericSubject(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "ada",
		"iss": "strafforts",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "42",
		"iss": "strafforts",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var seen *Claims
	handler := NewMiddleware(testConfig, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/athletes/42", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, int64(42), seen.AthleteID)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	handler := NewMiddleware(testConfig, nil).Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/athletes/42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareSkipsConfiguredPaths(t *testing.T) {
	skipper := func(r *http.Request) bool { return r.URL.Path == "/healthz" }
	handler := NewMiddleware(testConfig, skipper).Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
