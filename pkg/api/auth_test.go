package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticator_EmptySecretDisablesAuth(t *testing.T) {
	a := NewAuthenticator("")
	assert.Nil(t, a)

	called := false
	h := a.Require(func(http.ResponseWriter, *http.Request) { called = true })
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	assert.True(t, called)
}

func TestAuthenticator_Validate(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	a := NewAuthenticator("s3cret")
	a.now = func() time.Time { return now }

	token, err := a.Issue("brembo-01", "tier_1_supplier", time.Hour)
	require.NoError(t, err)

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "brembo-01", claims.Subject)
	assert.Equal(t, "tier_1_supplier", claims.Role)

	a.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = a.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestAuthenticator_RejectsOtherAlgorithmsAndMissingSubject(t *testing.T) {
	a := NewAuthenticator("s3cret")

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = a.Validate(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anon, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = a.Validate(anon)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequire_HeaderFormats(t *testing.T) {
	a := NewAuthenticator("s3cret")
	token, err := a.Issue("pirelli-01", "", time.Minute)
	require.NoError(t, err)

	var subject string
	h := a.Require(func(w http.ResponseWriter, r *http.Request) {
		subject = ClaimsFrom(r.Context()).Subject
		w.WriteHeader(http.StatusNoContent)
	})

	for _, header := range []string{"", "Token " + token, "Bearer", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "pirelli-01", subject)
}
