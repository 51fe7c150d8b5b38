package users

import (
	"errors"
	"time"

	"github.com/stocklane/stocklane/pkg/auth"
)

// User is an account in the user service. PasswordHash never leaves
// the service boundary.
type User struct {
	ID           int64            `json:"id"`
	Username     string           `json:"username"`
	Email        string           `json:"email"`
	PasswordHash string           `json:"-"`
	Authorities  []auth.Authority `json:"authorities"`
	IsActive     bool             `json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Principal converts the user to its authentication view.
func (u *User) Principal() *auth.Principal {
	authorities := make([]auth.Authority, len(u.Authorities))
	copy(authorities, u.Authorities)
	return &auth.Principal{Username: u.Username, Authorities: authorities}
}

// CreateUserRequest carries the fields for registering a user.
type CreateUserRequest struct {
	Username    string           `json:"username"`
	Email       string           `json:"email"`
	Password    string           `json:"password"`
	Authorities []auth.Authority `json:"authorities"`
}

// UpdateUserRequest carries the mutable user fields. Nil pointers
// leave the current value unchanged.
type UpdateUserRequest struct {
	Email       *string           `json:"email,omitempty"`
	Password    *string           `json:"password,omitempty"`
	Authorities *[]auth.Authority `json:"authorities,omitempty"`
}

// ListOptions controls user listing.
type ListOptions struct {
	IncludeInactive bool
	Limit           int
	Offset          int
}

var (
	// ErrUserNotFound indicates no matching active user exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials indicates a failed password check. It is
	// returned for bad passwords and unknown usernames alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
