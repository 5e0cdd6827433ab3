package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorhub/creatorhub/pkg/contextkeys"
)

type handlerEnv struct {
	store  *Store
	router *mux.Router
}

func setupHandlers(t *testing.T) *handlerEnv {
	t.Helper()
	store := setupSeededStore(t)
	mw := NewMiddleware(store, NewAuthorizer(nil, nil))

	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Test-User"); id != "" {
				r = r.WithContext(contextkeys.WithUserID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	})
	router.Use(mw.LoadActor)
	NewHandlers(store, mw).RegisterRoutes(router)

	return &handlerEnv{store: store, router: router}
}

func (e *handlerEnv) do(t *testing.T, user *User, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("X-Test-User", strconv.FormatInt(user.ID, 10))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Me(t *testing.T) {
	env := setupHandlers(t)
	customer := createUserWithRoles(t, env.store, "c@example.com", false, RoleCustomer)

	rec := env.do(t, customer, http.MethodGet, "/rbac/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got actorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, customer.ID, got.ID)
	assert.Equal(t, []string{RoleCustomer}, got.Roles)
	assert.Contains(t, got.Permissions, "view_audio")
	assert.NotContains(t, got.Permissions, "view_all_audio")

	rec = env.do(t, nil, http.MethodGet, "/rbac/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlers_RoleAdministration(t *testing.T) {
	env := setupHandlers(t)
	admin := createUserWithRoles(t, env.store, "admin@example.com", false, RoleAdmin)
	customer := createUserWithRoles(t, env.store, "c@example.com", false, RoleCustomer)

	rec := env.do(t, customer, http.MethodGet, "/rbac/roles", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, admin, http.MethodGet, "/rbac/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	require.Len(t, roles, 3)
	assert.Equal(t, RoleSuperAdmin, roles[0].Slug)

	rec = env.do(t, admin, http.MethodPost, "/rbac/roles", map[string]interface{}{
		"name":        "Moderator",
		"slug":        "moderator",
		"hierarchy":   50,
		"permissions": []string{"view_all_audio", "delete_any_audio"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.Permissions, 2)
	assert.False(t, created.IsSystem)

	rec = env.do(t, admin, http.MethodPatch, fmt.Sprintf("/rbac/roles/%d", created.ID), map[string]interface{}{
		"description": "keeps the peace",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Moderator", updated.Name)
	assert.Equal(t, "keeps the peace", updated.Description)

	rec = env.do(t, admin, http.MethodPut, fmt.Sprintf("/rbac/roles/%d/permissions", created.ID), map[string]interface{}{
		"permissions": []string{"view_all_audio"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var synced Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &synced))
	require.Len(t, synced.Permissions, 1)

	rec = env.do(t, admin, http.MethodDelete, fmt.Sprintf("/rbac/roles/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, admin, http.MethodGet, fmt.Sprintf("/rbac/roles/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_CreateRoleValidation(t *testing.T) {
	env := setupHandlers(t)
	admin := createUserWithRoles(t, env.store, "admin@example.com", false, RoleAdmin)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"missing name", map[string]interface{}{"slug": "x"}, http.StatusBadRequest},
		{"bad slug", map[string]interface{}{"name": "X", "slug": "Not A Slug"}, http.StatusBadRequest},
		{"reserved hierarchy", map[string]interface{}{"name": "X", "slug": "x", "hierarchy": 100}, http.StatusBadRequest},
		{"duplicate slug", map[string]interface{}{"name": "X", "slug": RoleCustomer}, http.StatusConflict},
		{"unknown permission", map[string]interface{}{"name": "X", "slug": "x", "permissions": []string{"fly"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, admin, http.MethodPost, "/rbac/roles", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	// the role from the failed permission sync is not left behind
	_, err := env.store.GetRoleBySlug(t.Context(), "x")
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestHandlers_DeleteSystemRole(t *testing.T) {
	env := setupHandlers(t)
	admin := createUserWithRoles(t, env.store, "admin@example.com", false, RoleAdmin)
	customerRole, err := env.store.GetRoleBySlug(t.Context(), RoleCustomer)
	require.NoError(t, err)

	rec := env.do(t, admin, http.MethodDelete, fmt.Sprintf("/rbac/roles/%d", customerRole.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_UserRoles(t *testing.T) {
	env := setupHandlers(t)
	admin := createUserWithRoles(t, env.store, "admin@example.com", false, RoleAdmin)
	root := createUserWithRoles(t, env.store, "root@example.com", true, RoleSuperAdmin)
	target := createUserWithRoles(t, env.store, "t@example.com", false, RoleCustomer)

	adminRole, err := env.store.GetRoleBySlug(t.Context(), RoleAdmin)
	require.NoError(t, err)
	superRole, err := env.store.GetRoleBySlug(t.Context(), RoleSuperAdmin)
	require.NoError(t, err)

	rolesPath := fmt.Sprintf("/rbac/users/%d/roles", target.ID)

	rec := env.do(t, admin, http.MethodPost, rolesPath, map[string]int64{"role_id": adminRole.ID})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, admin, http.MethodGet, fmt.Sprintf("/rbac/users/%d/permissions", target.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view actorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Contains(t, view.Permissions, "view_all_audio")

	// only a super-admin may grant super_admin
	rec = env.do(t, admin, http.MethodPost, rolesPath, map[string]int64{"role_id": superRole.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, root, http.MethodPost, rolesPath, map[string]int64{"role_id": superRole.ID})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, admin, http.MethodPost, "/rbac/users/9999/roles", map[string]int64{"role_id": adminRole.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, admin, http.MethodDelete, fmt.Sprintf("%s/%d", rolesPath, adminRole.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	actor, err := env.store.LoadActor(t.Context(), target.ID)
	require.NoError(t, err)
	assert.False(t, HasPermission(actor, "view_all_audio"))
}

func TestHandlers_RoleChangeAppliesOnNextRequest(t *testing.T) {
	env := setupHandlers(t)
	admin := createUserWithRoles(t, env.store, "admin@example.com", false, RoleAdmin)
	adminRole, err := env.store.GetRoleBySlug(t.Context(), RoleAdmin)
	require.NoError(t, err)

	rec := env.do(t, admin, http.MethodGet, "/rbac/permissions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, env.store.RevokeRole(t.Context(), admin.ID, adminRole.ID))

	rec = env.do(t, admin, http.MethodGet, "/rbac/permissions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlers_ListPermissionsByModule(t *testing.T) {
	env := setupHandlers(t)
	admin := createUserWithRoles(t, env.store, "admin@example.com", false, RoleAdmin)

	rec := env.do(t, admin, http.MethodGet, "/rbac/permissions?module=storage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms []Permission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perms))
	require.Len(t, perms, 2)
	for _, p := range perms {
		assert.Equal(t, "storage", p.Module)
	}
}
