package rbac

import "github.com/creatorhub/creatorhub/pkg/dbutil"

// Migrations returns the PostgreSQL schema of users, roles and permissions
func Migrations() dbutil.Component {
	return dbutil.Component{
		Name: "rbac",
		Migrations: []dbutil.Migration{
			{
				Version:     1,
				Description: "Create users table",
				SQL: `
					CREATE TABLE IF NOT EXISTS users (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						email VARCHAR(255) NOT NULL UNIQUE,
						is_system BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
				`,
			},
			{
				Version:     2,
				Description: "Create permissions and roles tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS permissions (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						slug VARCHAR(255) NOT NULL UNIQUE,
						description TEXT,
						module VARCHAR(64) NOT NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_permissions_module ON permissions(module);

					CREATE TABLE IF NOT EXISTS roles (
						id BIGSERIAL PRIMARY KEY,
						name VARCHAR(255) NOT NULL,
						slug VARCHAR(255) NOT NULL UNIQUE,
						hierarchy INTEGER NOT NULL DEFAULT 0,
						is_system BOOLEAN NOT NULL DEFAULT FALSE,
						description TEXT,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
				`,
			},
			{
				Version:     3,
				Description: "Create role_permissions and user_roles tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS role_permissions (
						role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
						permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
						PRIMARY KEY (role_id, permission_id)
					);

					CREATE TABLE IF NOT EXISTS user_roles (
						user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
						assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						PRIMARY KEY (user_id, role_id)
					);

					CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
				`,
			},
		},
	}
}
