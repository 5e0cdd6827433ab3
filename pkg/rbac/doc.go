// Package rbac provides role-based access control for CreatorHub.
//
// # Model
//
// Users hold roles, roles grant permissions, and permissions are plain slugs
// such as view_audio or manage_storage_config. A user's effective permissions
// are the union over all held roles. Role hierarchy only orders roles for
// display.
//
// # Deciding access
//
// Every content module shares one OwnershipPolicy shape:
//
//	policy := rbac.NewOwnershipPolicy("audio")
//	decision := rbac.Authorize(actor, policy, rbac.AbilityDelete, track)
//
// Authorize is pure. For view, update and delete it tries, in order, the
// system super-admin bypass, the broad permission (delete_any_audio), and
// ownership plus the scoped permission (manage_audio), then denies. viewAny and
// create are plain permission checks. The super-admin bypass needs both the
// super_admin role and a system account (User.IsSystem).
//
// An Authorizer keeps the policies of all modules, records every decision in
// Prometheus and logs denials with the matched rule. Callers only ever see
// ErrForbidden:
//
//	if err := authz.Check(ctx, actor, "audio", rbac.AbilityView, track); err != nil {
//		httputil.WriteDomainError(w, r, err) // 403 "forbidden"
//		return
//	}
//
// # Fresh actors
//
// Middleware.LoadActor reloads the actor with roles and permissions on every
// request through Store.LoadActor, so revoking a role takes effect on the next
// request. Never cache a *User across requests.
//
// # Seeding
//
// The embedded seed/permissions.yaml lists ownership modules, extra
// permissions and the built-in super_admin, admin and customer roles.
// Seeder.Seed is idempotent.
package rbac
