package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/creatorhub/creatorhub/pkg/contextkeys"
	"github.com/creatorhub/creatorhub/pkg/observability"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditLogger handles security audit logging
type AuditLogger struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(db *sql.DB, logger *observability.Logger) *AuditLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuditLogger{db: db, logger: logger}
}

// LogAction stores an audit event
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}

	log.CreatedAt = time.Now().UTC()
	if log.RequestID == "" {
		log.RequestID = contextkeys.GetRequestID(ctx)
	}

	var userID sql.NullInt64
	if log.UserID != nil {
		userID = sql.NullInt64{Int64: *log.UserID, Valid: true}
	}

	err := al.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, ip_address, user_agent,
			request_id, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, userID, log.Action, log.ResourceType, log.ResourceID, log.IPAddress, log.UserAgent,
		log.RequestID, log.Status, log.ErrorMessage, log.CreatedAt).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogFromRequest records an event for the request's authenticated user.
// Failures are logged and returned; callers never fail the request on them.
func (al *AuditLogger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    getClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}

	if err != nil {
		log.ErrorMessage = err.Error()
	}

	if raw := contextkeys.GetUserID(r.Context()); raw != "" {
		if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			log.UserID = &id
		}
	}

	if werr := al.LogAction(r.Context(), log); werr != nil {
		observability.FromContextOr(r.Context(), al.logger).
			WithError(werr).
			WithField("action", action).
			Warn("audit log write failed")
		return werr
	}
	return nil
}

// QueryAuditLogs returns matching entries, newest first
func (al *AuditLogger) QueryAuditLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, error) {
	if filters == nil {
		filters = &AuditLogFilters{}
	}

	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filters.UserID != nil {
		add("user_id = $%d", *filters.UserID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.ResourceType != "" {
		add("resource_type = $%d", filters.ResourceType)
	}
	if filters.ResourceID != "" {
		add("resource_id = $%d", filters.ResourceID)
	}
	if filters.Status != "" {
		add("status = $%d", filters.Status)
	}
	if filters.StartTime != nil {
		add("created_at >= $%d", filters.StartTime.UTC())
	}
	if filters.EndTime != nil {
		add("created_at <= $%d", filters.EndTime.UTC())
	}

	query := `SELECT id, user_id, action, resource_type, resource_id, ip_address, user_agent,
		request_id, status, error_message, created_at FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := al.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var (
			entry                                            AuditLog
			userID                                           sql.NullInt64
			resourceID, ip, agent, requestID, errorMessage sql.NullString
		)
		if err := rows.Scan(&entry.ID, &userID, &entry.Action, &entry.ResourceType, &resourceID, &ip,
			&agent, &requestID, &entry.Status, &errorMessage, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if userID.Valid {
			v := userID.Int64
			entry.UserID = &v
		}
		entry.ResourceID = resourceID.String
		entry.IPAddress = ip.String
		entry.UserAgent = agent.String
		entry.RequestID = requestID.String
		entry.ErrorMessage = errorMessage.String
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may hold a chain; the first hop is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
