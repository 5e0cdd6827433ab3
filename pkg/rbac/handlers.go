package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/creatorhub/creatorhub/pkg/httputil"
)

// Permission slugs guarding the role administration endpoints
const (
	PermissionViewRoles   = "view_roles"
	PermissionManageRoles = "manage_roles"
)

// Handlers provides HTTP handlers for role and permission administration
type Handlers struct {
	store *Store
	mw    *Middleware
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, mw *Middleware) *Handlers {
	return &Handlers{store: store, mw: mw}
}

// RegisterRoutes registers all RBAC routes. The router must already run
// authentication and Middleware.LoadActor.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	view := h.mw.RequirePermission(PermissionViewRoles)
	manage := h.mw.RequirePermission(PermissionManageRoles)

	router.HandleFunc("/rbac/me", h.Me).Methods(http.MethodGet)

	router.Handle("/rbac/permissions", view(http.HandlerFunc(h.ListPermissions))).Methods(http.MethodGet)

	router.Handle("/rbac/roles", view(http.HandlerFunc(h.ListRoles))).Methods(http.MethodGet)
	router.Handle("/rbac/roles", manage(http.HandlerFunc(h.CreateRole))).Methods(http.MethodPost)
	router.Handle("/rbac/roles/{id}", view(http.HandlerFunc(h.GetRole))).Methods(http.MethodGet)
	router.Handle("/rbac/roles/{id}", manage(http.HandlerFunc(h.UpdateRole))).Methods(http.MethodPatch)
	router.Handle("/rbac/roles/{id}", manage(http.HandlerFunc(h.DeleteRole))).Methods(http.MethodDelete)
	router.Handle("/rbac/roles/{id}/permissions", manage(http.HandlerFunc(h.SyncRolePermissions))).Methods(http.MethodPut)

	router.Handle("/rbac/users/{id}/permissions", view(http.HandlerFunc(h.GetUserPermissions))).Methods(http.MethodGet)
	router.Handle("/rbac/users/{id}/roles", manage(http.HandlerFunc(h.AssignRole))).Methods(http.MethodPost)
	router.Handle("/rbac/users/{id}/roles/{role_id}", manage(http.HandlerFunc(h.RevokeRole))).Methods(http.MethodDelete)
}

type actorView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func newActorView(u *User) actorView {
	v := actorView{ID: u.ID, Name: u.Name, Email: u.Email, Roles: []string{}, Permissions: u.PermissionSlugs()}
	for _, r := range u.Roles {
		v.Roles = append(v.Roles, r.Slug)
	}
	if v.Permissions == nil {
		v.Permissions = []string{}
	}
	return v
}

// Me returns the caller's own roles and effective permissions
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	_ = httputil.WriteSuccess(w, newActorView(actor))
}

// ListPermissions lists permissions, optionally filtered by ?module=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context(), r.URL.Query().Get("module"))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	_ = httputil.WriteSuccess(w, perms)
}

// ListRoles lists roles by descending hierarchy
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	_ = httputil.WriteSuccess(w, roles)
}

// GetRole returns a role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Slug        string   `json:"slug" validate:"required,max=64,slug"`
	Hierarchy   int      `json:"hierarchy" validate:"gte=0,lt=100"`
	Description string   `json:"description" validate:"max=1000"`
	Permissions []string `json:"permissions" validate:"dive,slug"`
}

// CreateRole creates a custom, deletable role. Hierarchy 100 is reserved for super_admin.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role := &Role{
		Name:        req.Name,
		Slug:        req.Slug,
		Hierarchy:   req.Hierarchy,
		Description: req.Description,
	}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if len(req.Permissions) > 0 {
		if err := h.store.SyncPermissions(r.Context(), role.ID, req.Permissions); err != nil {
			_ = h.store.DeleteRole(r.Context(), role.ID)
			httputil.WriteDomainError(w, r, err)
			return
		}
	}

	created, err := h.store.GetRole(r.Context(), role.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, created)
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Hierarchy   *int    `json:"hierarchy" validate:"omitempty,gte=0,lt=100"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

// UpdateRole partially updates a role. Omitted fields are unchanged.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role, err := h.store.UpdateRole(r.Context(), id, RoleUpdate(req))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a non-system role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type syncPermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,slug"`
}

// SyncRolePermissions replaces a role's permission set
func (h *Handlers) SyncRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req syncPermissionsRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.store.SyncPermissions(r.Context(), id, req.Permissions); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// GetUserPermissions shows another user's roles and effective permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user, err := h.store.LoadActor(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, newActorView(user))
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

// AssignRole gives a user a role. Only a super-admin may hand out super_admin.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	role, err := h.store.GetRole(r.Context(), req.RoleID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	actor, _ := ActorFromContext(r.Context())
	if role.Slug == RoleSuperAdmin && !actor.IsSuperAdmin() {
		httputil.WriteForbidden(w)
		return
	}
	if _, err := h.store.LoadActor(r.Context(), userID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	if err := h.store.AssignRole(r.Context(), userID, role.ID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeRole removes a role from a user
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}
	if err := h.store.RevokeRole(r.Context(), userID, roleID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
