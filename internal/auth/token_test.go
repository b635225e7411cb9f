// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

const secret = "test-secret-value"

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractToken(r))

	r.Header.Set("Authorization", "Bearer abc.def ")
	assert.Equal(t, "abc.def", ExtractToken(r))

	r.Header.Set("Authorization", "bearer lower")
	assert.Equal(t, "lower", ExtractToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, ExtractToken(r))
	assert.Empty(t, ExtractToken(nil))
}

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier(secret)
	require.NoError(t, err)

	tok, err := v.Issue("alice", "s-1", time.Minute)
	require.NoError(t, err)
	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, model.Requester{UserID: "alice", SessionID: "s-1"}, p.Requester())

	anon, err := v.Issue("", "s-2", time.Minute)
	require.NoError(t, err)
	p, err = v.Verify(anon)
	require.NoError(t, err)
	assert.Equal(t, "session:s-2", p.Requester().OwnerKey())
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier(secret)
	require.NoError(t, err)
	other, err := NewVerifier("another-secret")
	require.NoError(t, err)

	expired, err := v.Issue("alice", "", -time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue("alice", "", time.Minute)
	require.NoError(t, err)
	anonymous, err := v.Issue("", "", time.Minute)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "iss": Issuer}).
		SignedString([]byte(secret))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      expired,
		"no exp":       noExpiry,
		"wrong secret": foreign,
		"no identity":  anonymous,
		"alg none":     none,
		"garbage":      "not-a-token",
	} {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = NewVerifier("  ")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier(secret)
	require.NoError(t, err)

	var got model.Requester
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequesterFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	tok, err := v.Issue("bob", "", time.Minute)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, model.Requester{UserID: "bob"}, got)
}

func TestPrincipal_NilIsAnonymous(t *testing.T) {
	var p *Principal
	assert.Equal(t, model.Requester{}, p.Requester())
	assert.Nil(t, PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
