package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/dashborion/dashborion/pkg/rbac"
)

// PostgresDirectory implements Directory on PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates the directory and ensures its tables exist.
func NewPostgresDirectory(db *sql.DB) (*PostgresDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	d := &PostgresDirectory{db: db}
	if err := d.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure directory tables: %w", err)
	}
	return d, nil
}

func (d *PostgresDirectory) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		display_name VARCHAR(255),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS permission_grants (
		id BIGSERIAL PRIMARY KEY,
		subject_type VARCHAR(10) NOT NULL,
		subject VARCHAR(255) NOT NULL,
		project VARCHAR(255) NOT NULL,
		environment VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL,
		resources TEXT[],
		granted_by VARCHAR(255),
		granted_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_permission_grants_subject ON permission_grants(subject_type, subject);
	`

	_, err := d.db.Exec(query)
	return err
}

// LookupUser implements Directory.
func (d *PostgresDirectory) LookupUser(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, display_name, is_active, created_at, updated_at
		FROM users
		WHERE email = $1 AND is_active = TRUE
	`

	var user User
	var displayName sql.NullString
	err := d.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &displayName, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user.DisplayName = displayName.String
	return &user, nil
}

// PermissionsFor implements rbac.Directory: the union of the user's own
// grants and the grants of every group the IdP put them in.
func (d *PostgresDirectory) PermissionsFor(ctx context.Context, email string, groups []string) ([]rbac.Permission, error) {
	query := `
		SELECT project, environment, role, resources
		FROM permission_grants
		WHERE (subject_type = 'user' AND subject = $1)
		   OR (subject_type = 'group' AND subject = ANY($2))
	`

	rows, err := d.db.QueryContext(ctx, query, email, pq.Array(groups))
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	permissions := make([]rbac.Permission, 0)
	for rows.Next() {
		var p rbac.Permission
		var resources pq.StringArray
		if err := rows.Scan(&p.Project, &p.Environment, &p.Role, &resources); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		p.Resources = []string(resources)
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}

	return permissions, nil
}

// CreateUser registers a user; used by admin tooling and the bootstrap path.
func (d *PostgresDirectory) CreateUser(ctx context.Context, email, displayName string) (*User, error) {
	query := `
		INSERT INTO users (email, display_name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id, email, display_name, is_active, created_at, updated_at
	`

	var user User
	var dn sql.NullString
	err := d.db.QueryRowContext(ctx, query, email, displayName).Scan(
		&user.ID, &user.Email, &dn, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.DisplayName = dn.String
	return &user, nil
}

// AddGrant stores a permission grant.
func (d *PostgresDirectory) AddGrant(ctx context.Context, g Grant) error {
	if !g.Permission.Role.Valid() {
		return fmt.Errorf("invalid role %q", g.Permission.Role)
	}

	query := `
		INSERT INTO permission_grants (subject_type, subject, project, environment, role, resources, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := d.db.ExecContext(ctx, query,
		g.SubjectType, g.Subject,
		g.Permission.Project, g.Permission.Environment, g.Permission.Role,
		pq.Array(g.Permission.Resources), g.GrantedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to add grant: %w", err)
	}
	return nil
}

// ListGrants returns stored grants, newest first. An empty subject returns
// everything.
func (d *PostgresDirectory) ListGrants(ctx context.Context, subject string) ([]Grant, error) {
	query := `
		SELECT id, subject_type, subject, project, environment, role, resources, granted_by, granted_at
		FROM permission_grants
	`
	args := []interface{}{}
	if subject != "" {
		query += " WHERE subject = $1"
		args = append(args, subject)
	}
	query += " ORDER BY granted_at DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := make([]Grant, 0)
	for rows.Next() {
		var g Grant
		var resources pq.StringArray
		var grantedBy sql.NullString
		if err := rows.Scan(
			&g.ID, &g.SubjectType, &g.Subject,
			&g.Permission.Project, &g.Permission.Environment, &g.Permission.Role,
			&resources, &grantedBy, &g.GrantedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Permission.Resources = []string(resources)
		g.GrantedBy = grantedBy.String
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}

	return grants, nil
}

// ErrGrantNotFound is returned when a grant id does not exist.
var ErrGrantNotFound = errors.New("grant not found")

// RemoveGrant deletes a grant by id.
func (d *PostgresDirectory) RemoveGrant(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM permission_grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove grant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// EnsureBootstrapAdmin grants global admin to a configured email if that
// email holds no admin grant yet. This replaces the old "first SSO login
// becomes admin" behavior, which silently re-granted admin whenever the
// grant table was emptied. Returns true if a grant was written.
func (d *PostgresDirectory) EnsureBootstrapAdmin(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}

	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM permission_grants
		WHERE subject_type = 'user' AND subject = $1 AND role = 'admin'
	`, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check bootstrap admin: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if _, err := d.CreateUser(ctx, email, ""); err != nil {
		return false, err
	}

	err = d.AddGrant(ctx, Grant{
		SubjectType: SubjectUser,
		Subject:     email,
		Permission: rbac.Permission{
			Project:     rbac.Wildcard,
			Environment: rbac.Wildcard,
			Role:        rbac.RoleAdmin,
		},
		GrantedBy: "bootstrap",
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
