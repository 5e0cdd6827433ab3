package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const sqliteSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	is_system BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE permissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	description TEXT,
	module TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	hierarchy INTEGER NOT NULL DEFAULT 0,
	is_system BOOLEAN NOT NULL DEFAULT 0,
	description TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE role_permissions (
	role_id INTEGER NOT NULL,
	permission_id INTEGER NOT NULL,
	PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE user_roles (
	user_id INTEGER NOT NULL,
	role_id INTEGER NOT NULL,
	assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, role_id)
);
`

// setupTestDB creates an in-memory database with the RBAC schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}

// setupSeededStore returns a store seeded with the default permissions and roles
func setupSeededStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(setupTestDB(t))
	data, err := DefaultSeed()
	require.NoError(t, err)
	_, err = NewSeeder(store, quietLogrus()).Seed(context.Background(), data)
	require.NoError(t, err)
	return store
}

// createUserWithRoles creates a user holding the roles with the given slugs
func createUserWithRoles(t *testing.T, store *Store, email string, isSystem bool, roleSlugs ...string) *User {
	t.Helper()
	ctx := context.Background()

	u := &User{Name: email, Email: email, IsSystem: isSystem}
	require.NoError(t, store.CreateUser(ctx, u))
	for _, slug := range roleSlugs {
		role, err := store.GetRoleBySlug(ctx, slug)
		require.NoError(t, err, "role %s", slug)
		require.NoError(t, store.AssignRole(ctx, u.ID, role.ID))
	}
	return u
}

// createRoleWith creates a custom role granted the given permission slugs
func createRoleWith(t *testing.T, store *Store, slug string, permissionSlugs ...string) *Role {
	t.Helper()
	ctx := context.Background()

	role := &Role{Name: fmt.Sprintf("Role %s", slug), Slug: slug, Hierarchy: 20}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NoError(t, store.SyncPermissions(ctx, role.ID, permissionSlugs))
	return role
}
