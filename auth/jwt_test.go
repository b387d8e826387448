package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "0123456789abcdef0123"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: testKey})
	require.NoError(t, err)
	return a
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{JWTSigningKey: testKey})
	assert.Error(t, err)
	_, err = New(Options{Logger: zap.NewNop(), JWTSigningKey: "short"})
	assert.Error(t, err)

	a := newTestAuth(t)
	assert.Equal(t, time.Hour, a.TokenTTL)
	assert.Equal(t, EnvDevelopment, a.Environment)
}

func TestIdentifyFromBearerAndCookie(t *testing.T) {
	a := newTestAuth(t)
	token, err := a.CreateTokenFromClaims(Claims{ID: "user-1", Email: "a@example.com"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	id, ok := a.UserID(r)
	assert.True(t, ok)
	assert.Equal(t, "user-1", id)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	claims := a.Identify(r)
	require.NotNil(t, claims)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestIdentifyRejects(t *testing.T) {
	a := newTestAuth(t)
	other, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "another-signing-key-000"})
	require.NoError(t, err)
	foreign, err := other.CreateTokenFromClaims(Claims{ID: "user-1"})
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		ID:               "user-1",
	}).SignedString([]byte(testKey))
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{ID: "user-1"}).SignedString([]byte(testKey))
	require.NoError(t, err)

	noID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Email: "a@example.com"}).SignedString([]byte(testKey))
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":      "not-a-token",
		"foreign key":  foreign,
		"expired":      expired,
		"wrong alg":    wrongAlg,
		"missing id":   noID,
		"empty bearer": "",
	}
	for name, token := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		_, ok := a.UserID(r)
		assert.False(t, ok, name)
	}

	_, ok := a.UserID(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	token, err := a.CreateTokenFromClaims(Claims{ID: "user-1"})
	require.NoError(t, err)

	var seen *Claims
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body["error"])

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.ID)
}

func TestOptional(t *testing.T) {
	a := newTestAuth(t)
	token, err := a.CreateTokenFromClaims(Claims{ID: "user-1"})
	require.NoError(t, err)

	var seen *Claims
	h := a.Optional()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, seen)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.ID)
}

func TestClaimCheck(t *testing.T) {
	a := newTestAuth(t)
	h := a.ClaimCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
