package media

import "github.com/creatorhub/creatorhub/pkg/dbutil"

// Migrations returns the PostgreSQL schema of library items
func Migrations() dbutil.Component {
	return dbutil.Component{
		Name: "media",
		Migrations: []dbutil.Migration{
			{
				Version:     1,
				Description: "Create media_items table",
				SQL: `
					CREATE TABLE IF NOT EXISTS media_items (
						id BIGSERIAL PRIMARY KEY,
						user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						library VARCHAR(32) NOT NULL,
						title VARCHAR(255) NOT NULL,
						driver VARCHAR(32) NOT NULL,
						path TEXT NOT NULL,
						url TEXT NOT NULL,
						size BIGINT NOT NULL,
						mime_type VARCHAR(255) NOT NULL,
						visibility VARCHAR(16) NOT NULL DEFAULT 'private',
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_media_items_library ON media_items(library, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_media_items_owner ON media_items(user_id, library);
				`,
			},
			{
				Version:     2,
				Description: "Record the storage location of media files",
				SQL: `
					ALTER TABLE media_items ADD COLUMN IF NOT EXISTS location VARCHAR(64) NOT NULL DEFAULT '';
				`,
			},
		},
	}
}
