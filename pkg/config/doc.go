// Package config loads application configuration from CREATORHUB_* environment
// variables, applying defaults and validating the result.
//
//	CREATORHUB_PORT="8080"
//	CREATORHUB_HEALTH_PORT="9090"
//	CREATORHUB_DATABASE_URL="postgres://creatorhub@localhost/creatorhub?sslmode=disable"
//	CREATORHUB_REDIS_URL="redis://localhost:6379/0"
//	CREATORHUB_STORAGE_TIMEOUT="30s"
//	CREATORHUB_STORAGE_SECRETS_KEY="<base64 32 bytes>"
//	CREATORHUB_TOKEN_CLEANUP_SCHEDULE="@every 1h"
//	CREATORHUB_RATE_LIMIT_USER_PER_MINUTE="1000"
//	CREATORHUB_MEDIA_MAX_UPLOAD_BYTES="524288000"
//	CREATORHUB_LOG_LEVEL="debug"
//	CREATORHUB_OTEL_ENABLED="true"
//
// The active storage driver and its credentials are not configured here; they
// are rows in storage_settings managed through the admin API.
package config
