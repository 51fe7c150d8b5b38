package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/stocklane/stocklane/pkg/auth"
)

// Service manages user accounts.
type Service interface {
	CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, opts ListOptions) ([]*User, error)
	UpdateUser(ctx context.Context, id int64, req *UpdateUserRequest) (*User, error)
	DeactivateUser(ctx context.Context, id int64) error
	VerifyCredentials(ctx context.Context, username, password string) (*User, error)
	PurgeDeactivated(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db         *sql.DB
	bcryptCost int
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, bcryptCost: bcrypt.DefaultCost}
}

const userColumns = "id, username, email, password_hash, authorities, is_active, created_at, updated_at"

// CreateUser registers a new active user with a hashed password.
func (s *PostgresService) CreateUser(ctx context.Context, req *CreateUserRequest) (*User, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	authorities := req.Authorities
	if len(authorities) == 0 {
		authorities = []auth.Authority{auth.RoleUser}
	}
	authoritiesJSON, err := json.Marshal(auth.AuthorityStrings(authorities))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authorities: %w", err)
	}

	user := &User{
		Username:     strings.ToLower(strings.TrimSpace(req.Username)),
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hash),
		Authorities:  authorities,
		IsActive:     true,
	}

	query := `
		INSERT INTO users (username, email, password_hash, authorities, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash, authoritiesJSON).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by ID. Deactivated users are not returned.
func (s *PostgresService) GetUser(ctx context.Context, id int64) (*User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1 AND is_active = true", userColumns)
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves an active user by username.
func (s *PostgresService) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE username = $1 AND is_active = true", userColumns)
	return s.scanUser(s.db.QueryRowContext(ctx, query, strings.ToLower(username)))
}

// ListUsers returns users ordered by username.
func (s *PostgresService) ListUsers(ctx context.Context, opts ListOptions) ([]*User, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM users", userColumns)
	if !opts.IncludeInactive {
		query += " WHERE is_active = true"
	}
	query += " ORDER BY username LIMIT $1 OFFSET $2"

	rows, err := s.db.QueryContext(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

// UpdateUser applies the non-nil fields of req to the user.
func (s *PostgresService) UpdateUser(ctx context.Context, id int64, req *UpdateUserRequest) (*User, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	arg := 1

	if req.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", arg))
		args = append(args, strings.TrimSpace(*req.Email))
		arg++
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			return nil, fmt.Errorf("password must be at least 8 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		sets = append(sets, fmt.Sprintf("password_hash = $%d", arg))
		args = append(args, string(hash))
		arg++
	}
	if req.Authorities != nil {
		authoritiesJSON, err := json.Marshal(auth.AuthorityStrings(*req.Authorities))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal authorities: %w", err)
		}
		sets = append(sets, fmt.Sprintf("authorities = $%d", arg))
		args = append(args, authoritiesJSON)
		arg++
	}

	query := fmt.Sprintf(
		"UPDATE users SET %s WHERE id = $%d AND is_active = true RETURNING %s",
		strings.Join(sets, ", "), arg, userColumns,
	)
	args = append(args, id)

	return s.scanUser(s.db.QueryRowContext(ctx, query, args...))
}

// DeactivateUser soft-deletes the user. Tokens already issued for the
// account keep verifying; the account simply stops resolving to a
// principal.
func (s *PostgresService) DeactivateUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deactivation: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifyCredentials checks the password for an active user. Unknown
// usernames and wrong passwords both return ErrInvalidCredentials.
func (s *PostgresService) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err == ErrUserNotFound {
		// Burn a comparison anyway to keep timing uniform.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// PurgeDeactivated permanently removes users deactivated longer ago
// than olderThan, returning the number deleted.
func (s *PostgresService) PurgeDeactivated(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE is_active = false AND updated_at < NOW() - $1::interval",
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to purge users: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresService) scanUser(row rowScanner) (*User, error) {
	return scanUserRow(row)
}

func scanUserRow(row rowScanner) (*User, error) {
	user := &User{}
	var authoritiesJSON []byte
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&authoritiesJSON, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	var authorities []string
	if err := json.Unmarshal(authoritiesJSON, &authorities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorities: %w", err)
	}
	user.Authorities = auth.AuthoritiesFromStrings(authorities)
	return user, nil
}

func validateCreateRequest(req *CreateUserRequest) error {
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if len(req.Username) > 64 {
		return fmt.Errorf("username too long")
	}
	if len(req.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
