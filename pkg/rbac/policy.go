package rbac

import "reflect"

// Ability is a named action being authorized
type Ability string

const (
	AbilityViewAny Ability = "viewAny"
	AbilityView    Ability = "view"
	AbilityCreate  Ability = "create"
	AbilityUpdate  Ability = "update"
	AbilityDelete  Ability = "delete"
)

// ResourceScoped reports whether the ability targets a single resource
func (a Ability) ResourceScoped() bool {
	switch a {
	case AbilityView, AbilityUpdate, AbilityDelete:
		return true
	default:
		return false
	}
}

// Rule names the branch of Authorize that produced a decision
type Rule string

const (
	RuleSuperAdmin           Rule = "super_admin"
	RuleBroadPermission      Rule = "broad_permission"
	RuleOwner                Rule = "owner"
	RuleCollectionPermission Rule = "collection_permission"
	RuleDefaultDeny          Rule = "default_deny"
	RuleUnauthenticated      Rule = "unauthenticated"
)

// Decision is the outcome of Authorize. Rule is for audit logs only and must
// not be shown to the actor.
type Decision struct {
	Allowed bool
	Rule    Rule
}

func allow(rule Rule) Decision { return Decision{Allowed: true, Rule: rule} }
func deny(rule Rule) Decision  { return Decision{Allowed: false, Rule: rule} }

// AbilityRule configures one ability of an OwnershipPolicy.
//
// For collection abilities only Permission is used. For resource-scoped
// abilities AnyPermission grants access to every resource, while Permission
// grants access to the actor's own resources only. An empty slug disables
// that branch.
type AbilityRule struct {
	Permission    string
	AnyPermission string
}

// OwnershipPolicy is the single parameterized policy shared by every content
// module. Modules differ only in their permission slugs.
type OwnershipPolicy struct {
	Module string
	Rules  map[Ability]AbilityRule
}

// NewOwnershipPolicy derives the conventional slugs for module:
//
//	viewAny  view_<m>
//	view     view_all_<m>   | own: view_<m>
//	create   manage_<m>
//	update   update_any_<m> | own: manage_<m>
//	delete   delete_any_<m> | own: manage_<m>
func NewOwnershipPolicy(module string) *OwnershipPolicy {
	return &OwnershipPolicy{
		Module: module,
		Rules: map[Ability]AbilityRule{
			AbilityViewAny: {Permission: "view_" + module},
			AbilityView:    {Permission: "view_" + module, AnyPermission: "view_all_" + module},
			AbilityCreate:  {Permission: "manage_" + module},
			AbilityUpdate:  {Permission: "manage_" + module, AnyPermission: "update_any_" + module},
			AbilityDelete:  {Permission: "manage_" + module, AnyPermission: "delete_any_" + module},
		},
	}
}

// With returns a copy of the policy with the rule for ability replaced
func (p *OwnershipPolicy) With(ability Ability, rule AbilityRule) *OwnershipPolicy {
	rules := make(map[Ability]AbilityRule, len(p.Rules)+1)
	for k, v := range p.Rules {
		rules[k] = v
	}
	rules[ability] = rule
	return &OwnershipPolicy{Module: p.Module, Rules: rules}
}

// Slugs lists every permission slug the policy refers to
func (p *OwnershipPolicy) Slugs() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, a := range []Ability{AbilityViewAny, AbilityView, AbilityCreate, AbilityUpdate, AbilityDelete} {
		r := p.Rules[a]
		add(r.Permission)
		add(r.AnyPermission)
	}
	return out
}

// Authorize decides whether actor may perform ability under policy.
//
// Resource-scoped abilities stop at the first matching branch:
//
//  1. system super-admin
//  2. broad permission, regardless of ownership
//  3. owner holding the scoped permission
//  4. deny
//
// Collection abilities reduce to a permission check. A nil actor is always
// denied, and so is a resource-scoped ability without a resource unless
// branch 1 applies. Abilities the policy does not know are denied.
func Authorize(actor *User, policy *OwnershipPolicy, ability Ability, resource Owned) Decision {
	if actor == nil {
		return deny(RuleUnauthenticated)
	}
	if actor.IsSuperAdmin() {
		return allow(RuleSuperAdmin)
	}
	if policy == nil {
		return deny(RuleDefaultDeny)
	}

	rule, ok := policy.Rules[ability]
	if !ok {
		return deny(RuleDefaultDeny)
	}

	if !ability.ResourceScoped() {
		if rule.Permission != "" && HasPermission(actor, rule.Permission) {
			return allow(RuleCollectionPermission)
		}
		return deny(RuleDefaultDeny)
	}

	if isNil(resource) {
		return deny(RuleDefaultDeny)
	}
	if rule.AnyPermission != "" && HasPermission(actor, rule.AnyPermission) {
		return allow(RuleBroadPermission)
	}
	if rule.Permission != "" && resource.OwnerID() == actor.ID && HasPermission(actor, rule.Permission) {
		return allow(RuleOwner)
	}
	return deny(RuleDefaultDeny)
}

// isNil also catches a typed nil pointer stored in the interface
func isNil(resource Owned) bool {
	if resource == nil {
		return true
	}
	v := reflect.ValueOf(resource)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
