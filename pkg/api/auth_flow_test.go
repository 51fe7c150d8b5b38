package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/middleware"
)

var flowSecret = []byte("auth-flow-test-secret")

// newProtectedServer builds a router with the full middleware chain,
// one user-guarded route, one admin-guarded route, and a public route.
func newProtectedServer(t *testing.T, issuer *auth.TokenIssuer) *httptest.Server {
	t.Helper()

	directory := auth.NewStaticDirectory(
		&auth.Principal{Username: "bob", Authorities: []auth.Authority{auth.RoleUser}},
		&auth.Principal{Username: "alice", Authorities: []auth.Authority{auth.RoleUser, auth.RoleAdmin}},
	)
	authn := middleware.NewAuthenticator(issuer, directory, middleware.PrefixList{"/auth/"}, nil, nil)

	router := NewRouter(RouterConfig{Authenticator: authn})
	router.HandleFunc("/profile", middleware.RequireAuthority(auth.RoleUser, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	router.HandleFunc("/admin/settings", middleware.RequireAuthority(auth.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	router.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestAuthFlowEndToEnd(t *testing.T) {
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := newProtectedServer(t, issuer)

	bobToken, err := issuer.Issue("bob", []auth.Authority{auth.RoleUser})
	require.NoError(t, err)

	// bob reaches the user-guarded route.
	resp := get(t, server.URL+"/profile", bobToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// bob lacks ROLE_ADMIN.
	resp = get(t, server.URL+"/admin/settings", bobToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// alice holds both roles.
	aliceToken, err := issuer.Issue("alice", []auth.Authority{auth.RoleUser, auth.RoleAdmin})
	require.NoError(t, err)
	resp = get(t, server.URL+"/admin/settings", aliceToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlowAnonymous(t *testing.T) {
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := newProtectedServer(t, issuer)

	// No token: 401 from the authorization wrapper, not the filter.
	resp := get(t, server.URL+"/profile", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Garbage token degrades to anonymous, same 401.
	resp = get(t, server.URL+"/profile", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Public paths need nothing.
	resp = get(t, server.URL+"/auth/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthFlowExpiredToken(t *testing.T) {
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := newProtectedServer(t, issuer)

	claims := jwt.RegisteredClaims{
		Subject:   "bob",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(flowSecret)
	require.NoError(t, err)

	resp := get(t, server.URL+"/profile", expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthFlowTamperedToken(t *testing.T) {
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := newProtectedServer(t, issuer)

	token, err := issuer.Issue("alice", []auth.Authority{auth.RoleUser, auth.RoleAdmin})
	require.NoError(t, err)

	// Flip the last signature character.
	last := token[len(token)-1]
	flipped := byte('A')
	if last == 'A' {
		flipped = 'B'
	}
	tampered := token[:len(token)-1] + string(flipped)

	resp := get(t, server.URL+"/admin/settings", tampered)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthFlowUnknownSubject(t *testing.T) {
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := newProtectedServer(t, issuer)

	// Validly signed token for a user the directory does not know.
	token, err := issuer.Issue("mallory", []auth.Authority{auth.RoleAdmin})
	require.NoError(t, err)

	resp := get(t, server.URL+"/admin/settings", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
		"claims in the token do not grant anything the directory does not")
}
