package storage

import "github.com/creatorhub/creatorhub/pkg/dbutil"

// Migrations returns the PostgreSQL schema of storage settings
func Migrations() dbutil.Component {
	return dbutil.Component{
		Name: "storage",
		Migrations: []dbutil.Migration{
			{
				Version:     1,
				Description: "Create storage_settings table",
				SQL: `
					CREATE TABLE IF NOT EXISTS storage_settings (
						id BIGSERIAL PRIMARY KEY,
						driver VARCHAR(32) NOT NULL,
						access_key TEXT NOT NULL DEFAULT '',
						secret TEXT NOT NULL DEFAULT '',
						region VARCHAR(64) NOT NULL DEFAULT '',
						bucket VARCHAR(255) NOT NULL DEFAULT '',
						endpoint TEXT NOT NULL DEFAULT '',
						url TEXT NOT NULL DEFAULT '',
						use_path_style_endpoint BOOLEAN NOT NULL DEFAULT FALSE,
						root_path TEXT NOT NULL DEFAULT '',
						metadata JSONB NOT NULL DEFAULT '{}',
						active BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
				`,
			},
			{
				Version:     2,
				Description: "Allow at most one active storage setting",
				SQL: `
					CREATE UNIQUE INDEX IF NOT EXISTS idx_storage_settings_single_active
						ON storage_settings (active) WHERE active;
				`,
			},
		},
	}
}
