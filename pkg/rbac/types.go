package rbac

import (
	"time"
)

// Built-in role slugs
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleCustomer   = "customer"
)

// Permission is a granular capability identified by a unique slug
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Module      string    `json:"module"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role groups permissions. Hierarchy is a display/ordering rank and is never
// consulted when deciding access.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Hierarchy   int          `json:"hierarchy"`
	IsSystem    bool         `json:"is_system"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasPermission reports whether the role grants slug
func (r Role) HasPermission(slug string) bool {
	for _, p := range r.Permissions {
		if p.Slug == slug {
			return true
		}
	}
	return false
}

// User is an actor. IsSystem marks the single true system administrator
// account, as opposed to a regular admin that merely holds super_admin.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsSystem  bool      `json:"is_system"`
	Roles     []Role    `json:"roles,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsSuperAdmin is true only for a system account holding the super_admin role
func (u *User) IsSuperAdmin() bool {
	return u != nil && u.IsSystem && HasRole(u, RoleSuperAdmin)
}

// PermissionSlugs returns the de-duplicated union of all held roles' permissions
func (u *User) PermissionSlugs() []string {
	if u == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var slugs []string
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p.Slug]; ok {
				continue
			}
			seen[p.Slug] = struct{}{}
			slugs = append(slugs, p.Slug)
		}
	}
	return slugs
}

// HasRole reports whether actor holds a role with the given slug. A nil actor holds nothing.
func HasRole(actor *User, slug string) bool {
	if actor == nil {
		return false
	}
	for _, r := range actor.Roles {
		if r.Slug == slug {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of actor's roles grants slug. The system
// super-admin holds every permission, including slugs nobody registered.
func HasPermission(actor *User, slug string) bool {
	if actor == nil || slug == "" {
		return false
	}
	if actor.IsSuperAdmin() {
		return true
	}
	for _, r := range actor.Roles {
		if r.HasPermission(slug) {
			return true
		}
	}
	return false
}

// Owned is implemented by resources that belong to a single user
type Owned interface {
	OwnerID() int64
}
