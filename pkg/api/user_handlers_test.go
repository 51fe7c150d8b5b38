package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/users"
)

// userDirectory adapts the user service into the authentication
// directory, the same wiring the user-service binary uses.
type userDirectory struct {
	svc users.Service
}

func (d userDirectory) LookupPrincipal(ctx context.Context, username string) (*auth.Principal, error) {
	user, err := d.svc.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, auth.ErrPrincipalNotFound
		}
		return nil, err
	}
	return user.Principal(), nil
}

// userTestServer wires the authenticator backed by the fake user
// service, plus the user routes.
func userTestServer(t *testing.T, svc *fakeUserService, issuer *auth.TokenIssuer) *httptest.Server {
	t.Helper()

	authn := middleware.NewAuthenticator(issuer, userDirectory{svc}, middleware.PrefixList{"/auth/"}, nil, nil)
	router := NewRouter(RouterConfig{Authenticator: authn})
	NewUserHandlers(svc).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func issueFor(t *testing.T, issuer *auth.TokenIssuer, user *users.User) string {
	t.Helper()
	token, err := issuer.Issue(user.Username, user.Authorities)
	require.NoError(t, err)
	return token
}

func jsonBody(t *testing.T, body interface{}) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	return &buf
}

func TestUserRoutesRequireAdmin(t *testing.T) {
	svc := newFakeUserService()
	bob := svc.add("bob", "pw-irrelevant", auth.RoleUser)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := userTestServer(t, svc, issuer)

	resp := get(t, server.URL+"/users", issueFor(t, issuer, bob))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = get(t, server.URL+"/users", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserCRUDAsAdmin(t *testing.T) {
	svc := newFakeUserService()
	admin := svc.add("alice", "pw-irrelevant", auth.RoleUser, auth.RoleAdmin)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := userTestServer(t, svc, issuer)
	token := issueFor(t, issuer, admin)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	// Create.
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/users", jsonBody(t, users.CreateUserRequest{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "hunter2hunter2",
	}))
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created users.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, "carol", created.Username)

	// Read.
	resp = get(t, server.URL+"/users", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Deactivate.
	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/users/1", nil)
	req.Header = header.Clone()
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The deactivated user no longer resolves.
	resp = get(t, server.URL+"/users/1", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMe(t *testing.T) {
	svc := newFakeUserService()
	bob := svc.add("bob", "pw-irrelevant", auth.RoleUser)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := userTestServer(t, svc, issuer)

	resp := get(t, server.URL+"/me", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueFor(t, issuer, bob))
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var me users.User
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&me))
	assert.Equal(t, "bob", me.Username)
}

func TestInternalPrincipalEndpoint(t *testing.T) {
	svc := newFakeUserService()
	bob := svc.add("bob", "pw-irrelevant", auth.RoleUser)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)
	server := userTestServer(t, svc, issuer)

	// Regular users cannot read the internal endpoint.
	resp := get(t, server.URL+"/internal/principals/bob", issueFor(t, issuer, bob))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// A service principal known to the directory can. Register it as
	// an account so the directory resolves it.
	service := svc.add("svc:order-service", "pw-irrelevant", auth.RoleService)
	serviceToken := issueFor(t, issuer, service)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/internal/principals/bob", nil)
	req.Header.Set("Authorization", "Bearer "+serviceToken)
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var principal struct {
		Username    string   `json:"username"`
		Authorities []string `json:"authorities"`
	}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&principal))
	assert.Equal(t, "bob", principal.Username)
	assert.Equal(t, []string{"ROLE_USER"}, principal.Authorities)

	resp = get(t, server.URL+"/internal/principals/nobody", serviceToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
