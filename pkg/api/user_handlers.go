package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stocklane/stocklane/pkg/auth"
	"github.com/stocklane/stocklane/pkg/httputil"
	"github.com/stocklane/stocklane/pkg/middleware"
	"github.com/stocklane/stocklane/pkg/users"
)

// UserHandlers serves user account management.
type UserHandlers struct {
	users users.Service
}

// NewUserHandlers creates the user handlers.
func NewUserHandlers(userService users.Service) *UserHandlers {
	return &UserHandlers{users: userService}
}

// RegisterRoutes registers user routes. Account management needs
// ROLE_ADMIN; /me only needs a principal; the internal principal
// endpoint is for peer services.
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", middleware.RequireAuthority(auth.RoleAdmin, h.createUser)).Methods("POST")
	router.HandleFunc("/users", middleware.RequireAuthority(auth.RoleAdmin, h.listUsers)).Methods("GET")
	router.HandleFunc("/users/{id}", middleware.RequireAuthority(auth.RoleAdmin, h.getUser)).Methods("GET")
	router.HandleFunc("/users/{id}", middleware.RequireAuthority(auth.RoleAdmin, h.updateUser)).Methods("PUT")
	router.HandleFunc("/users/{id}", middleware.RequireAuthority(auth.RoleAdmin, h.deactivateUser)).Methods("DELETE")

	router.HandleFunc("/me", middleware.RequireAuthenticated(h.me)).Methods("GET")

	router.HandleFunc("/internal/principals/{username}",
		middleware.RequireAnyAuthority([]auth.Authority{auth.RoleService, auth.RoleAdmin}, h.getPrincipal)).
		Methods("GET")
}

// createUser handles POST /users
func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.CreateUser(r.Context(), &req)
	if err != nil {
		if errors.Is(err, users.ErrUsernameTaken) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteValidationError(w, err.Error())
		return
	}

	_ = httputil.WriteCreated(w, user)
}

// listUsers handles GET /users
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := httputil.ParseQueryInt(r, "limit", 100)
	offset, _ := httputil.ParseQueryInt(r, "offset", 0)
	includeInactive := httputil.ParseQueryString(r, "include_inactive", "") == "true"

	list, err := h.users.ListUsers(r.Context(), users.ListOptions{
		IncludeInactive: includeInactive,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, list)
}

// getUser handles GET /users/{id}
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, user)
}

// updateUser handles PUT /users/{id}
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req users.UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.UpdateUser(r.Context(), id, &req)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, user)
}

// deactivateUser handles DELETE /users/{id}
func (h *UserHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.users.DeactivateUser(r.Context(), id); err != nil {
		h.writeUserError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// me handles GET /me
func (h *UserHandlers) me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromRequest(r)

	user, err := h.users.GetUserByUsername(r.Context(), principal.Username)
	if err != nil {
		// Service accounts have no user row; answer with the principal.
		if errors.Is(err, users.ErrUserNotFound) {
			_ = httputil.WriteSuccess(w, principal)
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, user)
}

// getPrincipal handles GET /internal/principals/{username}
func (h *UserHandlers) getPrincipal(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.writeUserError(w, err)
		return
	}

	principal := user.Principal()
	_ = httputil.WriteSuccess(w, struct {
		Username    string   `json:"username"`
		Authorities []string `json:"authorities"`
	}{
		Username:    principal.Username,
		Authorities: auth.AuthorityStrings(principal.Authorities),
	})
}

func (h *UserHandlers) writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, users.ErrUserNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if errors.Is(err, users.ErrUsernameTaken) {
		httputil.WriteConflict(w, err.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}
