package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/users"
)

// fakeUserService backs handler tests without a database.
type fakeUserService struct {
	accounts  map[string]*users.User
	passwords map[string]string
	nextID    int64
}

func newFakeUserService() *fakeUserService {
	return &fakeUserService{
		accounts:  make(map[string]*users.User),
		passwords: make(map[string]string),
		nextID:    1,
	}
}

func (f *fakeUserService) add(username, password string, authorities ...auth.Authority) *users.User {
	user := &users.User{
		ID:          f.nextID,
		Username:    username,
		Email:       username + "@example.com",
		Authorities: authorities,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	f.nextID++
	f.accounts[username] = user
	f.passwords[username] = password
	return user
}

func (f *fakeUserService) CreateUser(ctx context.Context, req *users.CreateUserRequest) (*users.User, error) {
	if _, ok := f.accounts[req.Username]; ok {
		return nil, users.ErrUsernameTaken
	}
	return f.add(req.Username, req.Password, req.Authorities...), nil
}

func (f *fakeUserService) GetUser(ctx context.Context, id int64) (*users.User, error) {
	for _, user := range f.accounts {
		if user.ID == id && user.IsActive {
			return user, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (f *fakeUserService) GetUserByUsername(ctx context.Context, username string) (*users.User, error) {
	if user, ok := f.accounts[username]; ok && user.IsActive {
		return user, nil
	}
	return nil, users.ErrUserNotFound
}

func (f *fakeUserService) ListUsers(ctx context.Context, opts users.ListOptions) ([]*users.User, error) {
	var out []*users.User
	for _, user := range f.accounts {
		if user.IsActive || opts.IncludeInactive {
			out = append(out, user)
		}
	}
	return out, nil
}

func (f *fakeUserService) UpdateUser(ctx context.Context, id int64, req *users.UpdateUserRequest) (*users.User, error) {
	user, err := f.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Authorities != nil {
		user.Authorities = *req.Authorities
	}
	return user, nil
}

func (f *fakeUserService) DeactivateUser(ctx context.Context, id int64) error {
	user, err := f.GetUser(ctx, id)
	if err != nil {
		return err
	}
	user.IsActive = false
	return nil
}

func (f *fakeUserService) VerifyCredentials(ctx context.Context, username, password string) (*users.User, error) {
	user, ok := f.accounts[username]
	if !ok || !user.IsActive || f.passwords[username] != password {
		return nil, users.ErrInvalidCredentials
	}
	return user, nil
}

func (f *fakeUserService) PurgeDeactivated(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	for key, values := range header {
		req.Header[key] = values
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	svc := newFakeUserService()
	svc.add("bob", "hunter2hunter2", auth.RoleUser)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)

	router := NewRouter(RouterConfig{})
	NewAuthHandlers(svc, issuer, nil, nil).RegisterRoutes(router)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"username": "bob", "password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bob", resp.Username)
	assert.Equal(t, []string{"ROLE_USER"}, resp.Authorities)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.True(t, issuer.Validate(resp.Token))

	subject, err := issuer.Subject(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "bob", subject)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newFakeUserService()
	svc.add("bob", "hunter2hunter2", auth.RoleUser)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)

	router := NewRouter(RouterConfig{})
	NewAuthHandlers(svc, issuer, nil, nil).RegisterRoutes(router)

	rec := postJSON(t, router, "/auth/login", map[string]string{
		"username": "bob", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, router, "/auth/login", map[string]string{
		"username": "mallory", "password": "whatever",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unknown user answers like a bad password")

	rec = postJSON(t, router, "/auth/login", map[string]string{"username": "bob"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh(t *testing.T) {
	svc := newFakeUserService()
	user := svc.add("bob", "hunter2hunter2", auth.RoleUser)
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)

	router := NewRouter(RouterConfig{})
	NewAuthHandlers(svc, issuer, nil, nil).RegisterRoutes(router)

	token, err := issuer.Issue(user.Username, user.Authorities)
	require.NoError(t, err)

	// The refreshed token carries the user's current authorities, not
	// the ones baked into the old token.
	user.Authorities = []auth.Authority{auth.RoleUser, auth.RoleAdmin}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	rec := postJSON(t, router, "/auth/refresh", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"ROLE_USER", "ROLE_ADMIN"}, resp.Authorities)
}

func TestRefreshRejectsInvalidToken(t *testing.T) {
	svc := newFakeUserService()
	issuer := auth.NewTokenIssuer(flowSecret, time.Hour, 5*time.Minute)

	router := NewRouter(RouterConfig{})
	NewAuthHandlers(svc, issuer, nil, nil).RegisterRoutes(router)

	rec := postJSON(t, router, "/auth/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	header := http.Header{}
	header.Set("Authorization", "Bearer garbage")
	rec = postJSON(t, router, "/auth/refresh", nil, header)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
