package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/creatorhub/creatorhub/pkg/contextkeys"
	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/observability"
)

// ActorLoader loads a fresh actor with roles and permissions
type ActorLoader interface {
	LoadActor(ctx context.Context, userID int64) (*User, error)
}

// Middleware turns the authenticated user ID into a loaded actor and guards routes
type Middleware struct {
	loader     ActorLoader
	authorizer *Authorizer
}

// NewMiddleware creates the RBAC middleware
func NewMiddleware(loader ActorLoader, authorizer *Authorizer) *Middleware {
	return &Middleware{loader: loader, authorizer: authorizer}
}

// LoadActor reloads the actor from the database on every request so role
// changes apply immediately. It must run after authentication.
func (m *Middleware) LoadActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := contextkeys.GetUserID(r.Context())
		if raw == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		actor, err := m.loader.LoadActor(r.Context(), userID)
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("failed to load actor")
			httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequirePermission rejects actors lacking slug with a generic 403
func (m *Middleware) RequirePermission(slug string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !HasPermission(actor, slug) {
				observability.FromContext(r.Context()).
					WithField("actor_id", actor.ID).
					WithField("permission", slug).
					Debug("permission denied")
				httputil.WriteForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAbility guards a collection-level ability (viewAny, create) of module
func (m *Middleware) RequireAbility(module string, ability Ability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if err := m.authorizer.Check(r.Context(), actor, module, ability, nil); err != nil {
				httputil.WriteDomainError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
