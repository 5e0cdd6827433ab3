package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/rbac"
)

// Permission slugs guarding the token and audit endpoints
const (
	PermissionManageTokens  = "manage_api_tokens"
	PermissionViewAuditLogs = "view_audit_logs"
)

// Handlers serves self-service token management and the audit log
type Handlers struct {
	tokens     *TokenStore
	audit      *AuditLogger
	mw         *rbac.Middleware
	defaultTTL time.Duration
}

// NewHandlers creates auth handlers
func NewHandlers(tokens *TokenStore, audit *AuditLogger, mw *rbac.Middleware) *Handlers {
	return &Handlers{tokens: tokens, audit: audit, mw: mw}
}

// WithDefaultTTL makes tokens created without expires_at expire after ttl.
// Zero keeps them valid until revoked.
func (h *Handlers) WithDefaultTTL(ttl time.Duration) *Handlers {
	h.defaultTTL = ttl
	return h
}

// RegisterRoutes registers token and audit routes. The router must already
// run authentication and rbac.Middleware.LoadActor.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := h.mw.RequirePermission(PermissionManageTokens)
	viewAudit := h.mw.RequirePermission(PermissionViewAuditLogs)

	router.Handle("/tokens", manage(http.HandlerFunc(h.ListTokens))).Methods(http.MethodGet)
	router.Handle("/tokens", manage(http.HandlerFunc(h.CreateToken))).Methods(http.MethodPost)
	router.Handle("/tokens/{id:[0-9]+}", manage(http.HandlerFunc(h.RevokeToken))).Methods(http.MethodDelete)

	router.Handle("/audit-logs", viewAudit(http.HandlerFunc(h.QueryAuditLogs))).Methods(http.MethodGet)
}

type createTokenRequest struct {
	Name        string     `json:"name" validate:"required,max=255"`
	Description string     `json:"description" validate:"max=1000"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type createTokenResponse struct {
	Token    string    `json:"token"`
	APIToken *APIToken `json:"api_token"`
}

// ListTokens lists the caller's tokens
func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	tokens, err := h.tokens.List(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, tokens)
}

// CreateToken issues a token for the caller. The plaintext is in this
// response only.
func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	var req createTokenRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if req.ExpiresAt == nil && h.defaultTTL > 0 {
		exp := h.tokens.now().Add(h.defaultTTL)
		req.ExpiresAt = &exp
	}

	tok, plaintext, err := h.tokens.Create(r.Context(), actor.ID, req.Name, req.Description, req.ExpiresAt)
	if err != nil {
		_ = h.audit.LogFromRequest(r, ActionTokenCreate, "api_token", "", StatusFailure, err)
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = h.audit.LogFromRequest(r, ActionTokenCreate, "api_token", strconv.FormatInt(tok.ID, 10), StatusSuccess, nil)

	_ = httputil.WriteCreated(w, createTokenResponse{Token: plaintext, APIToken: tok})
}

// RevokeToken revokes one of the caller's tokens. ?reason= is recorded.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.tokens.Revoke(r.Context(), actor.ID, id, actor.ID, r.URL.Query().Get("reason")); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = h.audit.LogFromRequest(r, ActionTokenRevoke, "api_token", strconv.FormatInt(id, 10), StatusSuccess, nil)

	httputil.WriteNoContent(w)
}

// QueryAuditLogs lists audit entries filtered by query parameters
func (h *Handlers) QueryAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := &AuditLogFilters{
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Status:       q.Get("status"),
	}

	if raw := q.Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid user_id")
			return
		}
		filters.UserID = &id
	}
	for key, dst := range map[string]**time.Time{"since": &filters.StartTime, "until": &filters.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid "+key+": expected RFC3339")
			return
		}
		*dst = &t
	}

	var err error
	if filters.Limit, err = httputil.ParseQueryInt(r, "limit", defaultAuditLimit); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filters.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	logs, err := h.audit.QueryAuditLogs(r.Context(), filters)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, logs)
}
