package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creatorhub/creatorhub/pkg/dbutil"
)

// Store handles RBAC data persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers composing transactions
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- permissions ---

// CreatePermission inserts a permission and fills in its ID
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, slug, description, module, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, p.Name, p.Slug, p.Description, p.Module, now).Scan(&p.ID)
	if err != nil {
		if dbutil.IsUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}
	p.CreatedAt = now
	return nil
}

// EnsurePermission creates the permission unless its slug already exists. An
// existing row is returned untouched, never rewritten.
func (s *Store) EnsurePermission(ctx context.Context, p *Permission) (created bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (name, slug, description, module, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO NOTHING
	`, p.Name, p.Slug, p.Description, p.Module, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to ensure permission %s: %w", p.Slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	existing, err := s.GetPermissionBySlug(ctx, p.Slug)
	if err != nil {
		return false, err
	}
	*p = *existing
	return n > 0, nil
}

// GetPermissionBySlug looks up a permission by slug
func (s *Store) GetPermissionBySlug(ctx context.Context, slug string) (*Permission, error) {
	var p Permission
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, module, created_at
		FROM permissions
		WHERE slug = $1
	`, slug).Scan(&p.ID, &p.Name, &p.Slug, &description, &p.Module, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	p.Description = description.String
	return &p, nil
}

// ListPermissions returns all permissions, or those of one module when module is non-empty
func (s *Store) ListPermissions(ctx context.Context, module string) ([]Permission, error) {
	query := `SELECT id, name, slug, description, module, created_at FROM permissions`
	var args []interface{}
	if module != "" {
		query += ` WHERE module = $1`
		args = append(args, module)
	}
	query += ` ORDER BY module, slug`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var p Permission
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &description, &p.Module, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Description = description.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- roles ---

// CreateRole inserts a role without permissions and fills in its ID
func (s *Store) CreateRole(ctx context.Context, r *Role) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, slug, hierarchy, is_system, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, r.Name, r.Slug, r.Hierarchy, r.IsSystem, r.Description, now, now).Scan(&r.ID)
	if err != nil {
		if dbutil.IsUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// RoleUpdate is a partial update; nil fields are left unchanged
type RoleUpdate struct {
	Name        *string
	Hierarchy   *int
	Description *string
}

// UpdateRole applies a partial update and returns the updated role
func (s *Store) UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (*Role, error) {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Hierarchy != nil {
		add("hierarchy", *upd.Hierarchy)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if len(sets) == 0 {
		return s.GetRole(ctx, id)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE roles SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRoleNotFound
	}
	return s.GetRole(ctx, id)
}

const roleColumns = `id, name, slug, hierarchy, is_system, description, created_at, updated_at`

func scanRole(row interface{ Scan(...interface{}) error }) (*Role, error) {
	var r Role
	var description sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.Slug, &r.Hierarchy, &r.IsSystem, &description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = description.String
	return &r, nil
}

// GetRole loads a role with its permissions
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// GetRoleBySlug loads a role with its permissions by slug
func (s *Store) GetRoleBySlug(ctx context.Context, slug string) (*Role, error) {
	return s.getRole(ctx, `SELECT `+roleColumns+` FROM roles WHERE slug = $1`, slug)
}

func (s *Store) getRole(ctx context.Context, query string, arg interface{}) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.slug, p.description, p.module, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.slug
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var p Permission
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &description, &p.Module, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Description = description.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListRoles returns roles ordered by descending hierarchy, without permissions
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY hierarchy DESC, slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteRole removes a non-system role and its assignments
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var isSystem bool
		err := tx.QueryRowContext(ctx, `SELECT is_system FROM roles WHERE id = $1`, id).Scan(&isSystem)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get role: %w", err)
		}
		if isSystem {
			return ErrSystemRole
		}

		for _, q := range []string{
			`DELETE FROM role_permissions WHERE role_id = $1`,
			`DELETE FROM user_roles WHERE role_id = $1`,
			`DELETE FROM roles WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete role: %w", err)
			}
		}
		return nil
	})
}

// SyncPermissions replaces the role's permission set with slugs. Unknown slugs
// fail the whole call and leave the role unchanged.
func (s *Store) SyncPermissions(ctx context.Context, roleID int64, slugs []string) error {
	return dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		ids, err := permissionIDs(ctx, tx, slugs)
		if err != nil {
			return err
		}
		if err := roleExists(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		for _, pid := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, pid); err != nil {
				return fmt.Errorf("failed to grant permission: %w", err)
			}
		}
		return nil
	})
}

// GrantPermissions adds slugs to the role, keeping what it already has
func (s *Store) GrantPermissions(ctx context.Context, roleID int64, slugs []string) error {
	return dbutil.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		ids, err := permissionIDs(ctx, tx, slugs)
		if err != nil {
			return err
		}
		if err := roleExists(ctx, tx, roleID); err != nil {
			return err
		}
		for _, pid := range ids {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
				ON CONFLICT (role_id, permission_id) DO NOTHING
			`, roleID, pid); err != nil {
				return fmt.Errorf("failed to grant permission: %w", err)
			}
		}
		return nil
	})
}

func roleExists(ctx context.Context, tx *sql.Tx, roleID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE id = $1`, roleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRoleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get role: %w", err)
	}
	return nil
}

func permissionIDs(ctx context.Context, tx *sql.Tx, slugs []string) ([]int64, error) {
	ids := make([]int64, 0, len(slugs))
	seen := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		if seen[slug] {
			continue
		}
		seen[slug] = true

		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM permissions WHERE slug = $1`, slug).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermissions, slug)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve permission %s: %w", slug, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// --- users ---

// CreateUser inserts a user and fills in its ID
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, is_system, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, u.Name, u.Email, u.IsSystem, now).Scan(&u.ID)
	if err != nil {
		if dbutil.IsUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.CreatedAt = now
	return nil
}

// AssignRole gives the user a role; assigning twice is a no-op
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes a role from the user; revoking an absent role is a no-op
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// LoadActor loads a user with roles and permissions eagerly, straight from the
// database. Call it once per request; never reuse the result across requests.
func (s *Store) LoadActor(ctx context.Context, userID int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, is_system, created_at FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Email, &u.IsSystem, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.slug, r.hierarchy, r.is_system, r.description, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.hierarchy DESC, r.slug
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	index := make(map[int64]int)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		index[r.ID] = len(u.Roles)
		u.Roles = append(u.Roles, *r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	rows.Close()

	if len(u.Roles) == 0 {
		return &u, nil
	}

	prows, err := s.db.QueryContext(ctx, `
		SELECT rp.role_id, p.id, p.name, p.slug, p.description, p.module, p.created_at
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.slug
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user permissions: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var roleID int64
		var p Permission
		var description sql.NullString
		if err := prows.Scan(&roleID, &p.ID, &p.Name, &p.Slug, &description, &p.Module, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Description = description.String
		if i, ok := index[roleID]; ok {
			u.Roles[i].Permissions = append(u.Roles[i].Permissions, p)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load user permissions: %w", err)
	}

	return &u, nil
}
