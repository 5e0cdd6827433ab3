package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/creatorhub/creatorhub/pkg/auth"
	"github.com/creatorhub/creatorhub/pkg/contextkeys"
	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/observability"
)

// TokenValidator resolves a presented bearer token
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.APIToken, error)
}

// FailureRecorder records rejected authentication attempts
type FailureRecorder interface {
	LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) error
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	tokens   TokenValidator
	audit    FailureRecorder
	logger   *observability.Logger
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. audit may be nil.
func NewAuthMiddleware(tokens TokenValidator, audit FailureRecorder, logger *observability.Logger, optional bool) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		tokens:   tokens,
		audit:    audit,
		logger:   logger,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication. A valid token puts the
// token and its user ID into the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		apiToken, err := m.tokens.Validate(r.Context(), token)
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				m.recordFailure(r, err)
				httputil.WriteUnauthorized(w, authErr.PublicMessage())
				return
			}
			observability.FromContextOr(r.Context(), m.logger).WithError(err).Error("token validation failed")
			httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), apiToken)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(apiToken.UserID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) recordFailure(r *http.Request, err error) {
	if m.audit == nil {
		return
	}
	_ = m.audit.LogFromRequest(r, auth.ActionAuthFailure, "api_token", "", auth.StatusDenied, err)
}

// GetAuthToken returns the validated token of the request, if any
func GetAuthToken(r *http.Request) *auth.APIToken {
	tok, _ := r.Context().Value(contextkeys.AuthKey).(*auth.APIToken)
	return tok
}
