package authz

import (
	_ "embed"
	"fmt"

	"memberdash/internal/core/domain"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var modelContent string

// Policy is one role → action grant. Actions may end in * to match a prefix.
type Policy struct {
	Role   domain.Role
	Action string
}

// DefaultPolicies grants the identity lifecycle actions to admins only.
func DefaultPolicies() []Policy {
	return []Policy{
		{Role: domain.RoleAdmin, Action: domain.ActionCreateMember},
		{Role: domain.RoleAdmin, Action: domain.ActionDeleteMember},
		{Role: domain.RoleAdmin, Action: domain.ActionUpdateIdentity},
	}
}

// Authorizer answers whether a session's role may run a member action.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

func NewAuthorizer(policies []Policy) (*Authorizer, error) {
	m, err := model.NewModelFromString(modelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	rules := make([][]string, 0, len(policies))
	for _, p := range policies {
		rules = append(rules, []string{string(p.Role), p.Action})
	}
	if len(rules) > 0 {
		if _, err := enforcer.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("load casbin policies: %w", err)
		}
	}

	return &Authorizer{enforcer: enforcer}, nil
}

// Authorize returns domain.ErrForbidden when the role has no matching grant.
func (a *Authorizer) Authorize(session *domain.Session, action string) error {
	role := session.EffectiveRole()
	allowed, err := a.enforcer.Enforce(string(role), action)
	if err != nil {
		return fmt.Errorf("evaluate policy for %s: %w", action, err)
	}
	if !allowed {
		return fmt.Errorf("%s may not %s: %w", role, action, domain.ErrForbidden)
	}
	return nil
}

// InheritRole makes role inherit every grant of parent.
func (a *Authorizer) InheritRole(role, parent domain.Role) error {
	_, err := a.enforcer.AddGroupingPolicy(string(role), string(parent))
	return err
}
