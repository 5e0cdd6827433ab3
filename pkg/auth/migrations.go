package auth

import "github.com/creatorhub/creatorhub/pkg/dbutil"

// Migrations returns the PostgreSQL schema of API tokens and audit logs.
// Both reference users, so rbac migrations must run first.
func Migrations() dbutil.Component {
	return dbutil.Component{
		Name: "auth",
		Migrations: []dbutil.Migration{
			{
				Version:     1,
				Description: "Create api_tokens table",
				SQL: `
					CREATE TABLE IF NOT EXISTS api_tokens (
						id BIGSERIAL PRIMARY KEY,
						user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						token_hash CHAR(64) NOT NULL UNIQUE,
						token_prefix VARCHAR(32) NOT NULL,
						name VARCHAR(255) NOT NULL,
						description TEXT,
						expires_at TIMESTAMPTZ,
						last_used_at TIMESTAMPTZ,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						revoked_at TIMESTAMPTZ,
						revoked_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
						revoke_reason TEXT
					);

					CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens(user_id);
					CREATE INDEX IF NOT EXISTS idx_api_tokens_expires ON api_tokens(expires_at) WHERE expires_at IS NOT NULL;
				`,
			},
			{
				Version:     2,
				Description: "Create audit_logs table",
				SQL: `
					CREATE TABLE IF NOT EXISTS audit_logs (
						id BIGSERIAL PRIMARY KEY,
						user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
						action VARCHAR(64) NOT NULL,
						resource_type VARCHAR(64) NOT NULL,
						resource_id VARCHAR(255),
						ip_address VARCHAR(64),
						user_agent TEXT,
						request_id VARCHAR(64),
						status VARCHAR(16) NOT NULL,
						error_message TEXT,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action, created_at DESC);
				`,
			},
		},
	}
}
