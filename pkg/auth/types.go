package auth

import "time"

// APIToken is a stored token. The plaintext is never persisted.
type APIToken struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	TokenHash    string     `json:"-"`
	TokenPrefix  string     `json:"token_prefix"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokedBy    *int64     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// Expired reports whether the token's expiry lies before now
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Revoked reports whether the token has been revoked
func (t *APIToken) Revoked() bool {
	return t.RevokedAt != nil
}

// AuditLog is a security audit entry
type AuditLog struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditLogFilters narrows QueryAuditLogs. Zero values do not filter.
type AuditLogFilters struct {
	UserID       *int64
	Action       string
	ResourceType string
	ResourceID   string
	Status       string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// Audit actions
const (
	ActionTokenCreate   = "token.create"
	ActionTokenRevoke   = "token.revoke"
	ActionAuthFailure   = "auth.failure"
	ActionStorageChange = "storage.change"
	ActionRoleChange    = "role.change"
)

// Audit statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
