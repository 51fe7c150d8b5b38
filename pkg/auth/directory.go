package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Directory resolves a principal's identity and authorities given a username.
// Implementations may perform blocking I/O; callers pass a request context.
type Directory interface {
	LookupPrincipal(ctx context.Context, username string) (*Principal, error)
}

// DirectoryFunc adapts a function into a Directory
type DirectoryFunc func(ctx context.Context, username string) (*Principal, error)

// LookupPrincipal satisfies the Directory interface
func (f DirectoryFunc) LookupPrincipal(ctx context.Context, username string) (*Principal, error) {
	return f(ctx, username)
}

// PostgresDirectory resolves principals from the users table
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory backed by the given database
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// LookupPrincipal fetches the active user row and its authorities. Returns
// ErrPrincipalNotFound for missing or deactivated users.
func (d *PostgresDirectory) LookupPrincipal(ctx context.Context, username string) (*Principal, error) {
	query := `
		SELECT username, authorities
		FROM users
		WHERE username = $1 AND is_active = true
	`
	var (
		name           string
		authoritiesRaw []byte
	)
	err := d.db.QueryRowContext(ctx, query, username).Scan(&name, &authoritiesRaw)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}

	var authorities []string
	if err := json.Unmarshal(authoritiesRaw, &authorities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorities: %w", err)
	}

	return &Principal{
		Username:    name,
		Authorities: AuthoritiesFromStrings(authorities),
	}, nil
}

// StaticDirectory resolves a fixed set of principals, used for the
// service-to-service accounts that have no user row.
type StaticDirectory struct {
	principals map[string]*Principal
}

// NewStaticDirectory creates a directory from the given principals
func NewStaticDirectory(principals ...*Principal) *StaticDirectory {
	m := make(map[string]*Principal, len(principals))
	for _, p := range principals {
		if p != nil {
			m[p.Username] = p
		}
	}
	return &StaticDirectory{principals: m}
}

// LookupPrincipal returns a copy of the static entry or ErrPrincipalNotFound
func (d *StaticDirectory) LookupPrincipal(_ context.Context, username string) (*Principal, error) {
	p, ok := d.principals[username]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := &Principal{
		Username:    p.Username,
		Authorities: append([]Authority(nil), p.Authorities...),
	}
	return cp, nil
}

// ServiceSubject returns the token subject for a service account.
func ServiceSubject(name string) string {
	return "svc:" + name
}

// NewServiceDirectory builds a static directory holding the service
// accounts for the named peers, each carrying the service role.
func NewServiceDirectory(names ...string) *StaticDirectory {
	principals := make([]*Principal, 0, len(names))
	for _, name := range names {
		principals = append(principals, &Principal{
			Username:    ServiceSubject(name),
			Authorities: []Authority{RoleService},
		})
	}
	return NewStaticDirectory(principals...)
}

// MultiDirectory tries directories in order until one resolves. A miss moves
// on to the next; any other error is returned as-is.
type MultiDirectory struct {
	directories []Directory
}

// NewMultiDirectory filters nil directories and returns a composite
func NewMultiDirectory(directories ...Directory) *MultiDirectory {
	filtered := make([]Directory, 0, len(directories))
	for _, d := range directories {
		if d != nil {
			filtered = append(filtered, d)
		}
	}
	return &MultiDirectory{directories: filtered}
}

// LookupPrincipal satisfies the Directory interface
func (m *MultiDirectory) LookupPrincipal(ctx context.Context, username string) (*Principal, error) {
	for _, d := range m.directories {
		p, err := d.LookupPrincipal(ctx, username)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrPrincipalNotFound) {
			continue
		}
		return nil, err
	}
	return nil, ErrPrincipalNotFound
}
