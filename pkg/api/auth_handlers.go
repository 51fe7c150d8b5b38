package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/httputil"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/observability"
	"github.com/stocklane/stocklane/pkg/users"
)

// AuthHandlers serves login and token refresh.
type AuthHandlers struct {
	users   users.Service
	issuer  *auth.TokenIssuer
	limiter *middleware.RateLimiter
	metrics *observability.Metrics
}

// NewAuthHandlers creates the auth handlers. limiter and metrics may
// be nil.
func NewAuthHandlers(userService users.Service, issuer *auth.TokenIssuer, limiter *middleware.RateLimiter, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{
		users:   userService,
		issuer:  issuer,
		limiter: limiter,
		metrics: metrics,
	}
}

// RegisterRoutes registers authentication routes. These live under the
// public /auth/ prefix: the request filter skips them, so they inspect
// credentials themselves.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	login := h.login
	refresh := h.refresh
	if h.limiter != nil {
		login = h.limiter.Middleware(login)
		refresh = h.limiter.Middleware(refresh)
	}
	router.HandleFunc("/auth/login", login).Methods("POST")
	router.HandleFunc("/auth/refresh", refresh).Methods("POST")
}

type tokenResponse struct {
	Token       string   `json:"token"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
	ExpiresIn   int64    `json:"expires_in"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteValidationError(w, "username and password are required")
		return
	}

	user, err := h.users.VerifyCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		// Unknown user and bad password answer identically.
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}

	h.issueToken(w, user)
}

// refresh handles POST /auth/refresh. It trades a still-valid token
// for a fresh one with the user's current authorities.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		httputil.WriteUnauthorized(w, "bearer token required")
		return
	}
	token := strings.TrimPrefix(header, "Bearer ")

	if !h.issuer.Validate(token) {
		httputil.WriteUnauthorized(w, "invalid token")
		return
	}
	username, err := h.issuer.Subject(token)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid token")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), username)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid token")
		return
	}

	h.issueToken(w, user)
}

func (h *AuthHandlers) issueToken(w http.ResponseWriter, user *users.User) {
	token, err := h.issuer.Issue(user.Username, user.Authorities)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.TokensIssuedTotal.Inc()
	}

	_ = httputil.WriteSuccess(w, tokenResponse{
		Token:       token,
		Username:    user.Username,
		Authorities: auth.AuthorityStrings(user.Authorities),
		ExpiresIn:   int64(h.issuer.TTL() / time.Second),
	})
}
