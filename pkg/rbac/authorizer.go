package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/creatorhub/creatorhub/pkg/contextkeys"
	"github.com/creatorhub/creatorhub/pkg/observability"
)

// Authorizer holds the ownership policy of every module and records each
// decision it makes.
type Authorizer struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	policies map[string]*OwnershipPolicy
}

// NewAuthorizer creates an authorizer. metrics may be nil.
func NewAuthorizer(logger *observability.Logger, metrics *observability.Metrics) *Authorizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Authorizer{
		logger:   logger,
		metrics:  metrics,
		policies: make(map[string]*OwnershipPolicy),
	}
}

// Register adds or replaces the policy for policy.Module
func (a *Authorizer) Register(policies ...*OwnershipPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range policies {
		a.policies[p.Module] = p
	}
}

// Policy returns the policy registered for module
func (a *Authorizer) Policy(module string) (*OwnershipPolicy, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.policies[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, module)
	}
	return p, nil
}

// Modules returns the names of all registered policies
func (a *Authorizer) Modules() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.policies))
	for m := range a.policies {
		out = append(out, m)
	}
	return out
}

// Decide evaluates the module policy. An unregistered module is denied.
func (a *Authorizer) Decide(ctx context.Context, actor *User, module string, ability Ability, resource Owned) Decision {
	policy, err := a.Policy(module)
	var decision Decision
	if err != nil {
		decision = deny(RuleDefaultDeny)
		if actor.IsSuperAdmin() {
			decision = allow(RuleSuperAdmin)
		}
	} else {
		decision = Authorize(actor, policy, ability, resource)
	}

	a.metrics.RecordAuthzDecision(module, string(ability), string(decision.Rule), decision.Allowed)

	entry := observability.FromContextOr(ctx, a.logger).WithFields(map[string]interface{}{
		"module":  module,
		"ability": string(ability),
		"rule":    string(decision.Rule),
		"allowed": decision.Allowed,
	})
	if actor != nil {
		entry = entry.WithField("actor_id", actor.ID)
	}
	if !decision.Allowed {
		entry.Debug("authorization denied")
	}

	return decision
}

// Can is Decide reduced to a boolean
func (a *Authorizer) Can(ctx context.Context, actor *User, module string, ability Ability, resource Owned) bool {
	return a.Decide(ctx, actor, module, ability, resource).Allowed
}

// Check returns nil when allowed and a *DeniedError otherwise
func (a *Authorizer) Check(ctx context.Context, actor *User, module string, ability Ability, resource Owned) error {
	decision := a.Decide(ctx, actor, module, ability, resource)
	if decision.Allowed {
		return nil
	}
	denied := &DeniedError{Module: module, Ability: ability, Rule: decision.Rule}
	if actor != nil {
		denied.ActorID = actor.ID
	}
	return denied
}

// ActorFromContext returns the actor loaded by Middleware.LoadActor
func ActorFromContext(ctx context.Context) (*User, bool) {
	actor, ok := ctx.Value(contextkeys.ActorKey).(*User)
	return actor, ok && actor != nil
}

// WithActor stores actor in ctx
func WithActor(ctx context.Context, actor *User) context.Context {
	return contextkeys.WithActor(ctx, actor)
}
