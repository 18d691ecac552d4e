package verdict

import (
	"fmt"

	"github.com/oarkflow/verdict/utils"
)

// RBACEvaluator allows when any of the subject's roles, directly or through
// inheritance, grants the requested action. Pure RBAC has no negative
// grants: when no role matches, the verdict is NotApplicable, never Deny.
// Grants are therefore monotonic in the subject's role set.
type RBACEvaluator struct {
	model *Model
}

func NewRBACEvaluator(m *Model) *RBACEvaluator { return &RBACEvaluator{model: m} }

func (e *RBACEvaluator) Name() string { return "rbac" }

func (e *RBACEvaluator) Evaluate(ctx *EvalContext) Verdict {
	for _, name := range ctx.Subject.Roles {
		role, err := e.model.Role(name)
		if err != nil {
			continue
		}
		visited := map[string]bool{}
		if granted, via := e.grants(role, ctx.Action, ctx.Resource, visited); granted {
			return allowVerdict(e.Name(), via, fmt.Sprintf("role %q grants %q", via, ctx.Action))
		}
	}
	return skipVerdict(e.Name(), "no role grants the action")
}

// grants walks the role and its ancestors; visited guards against
// inheritance cycles.
func (e *RBACEvaluator) grants(role *Role, action Action, res *Resource, visited map[string]bool) (bool, string) {
	if role == nil || visited[role.Name] {
		return false, ""
	}
	visited[role.Name] = true

	resID, resKey := "", ""
	if res != nil {
		resID = res.ID
		resKey = res.Type + ":" + res.ID
	}
	for _, p := range role.Permissions {
		if !utils.MatchAction(string(p.Action), string(action)) {
			continue
		}
		// patterns may address the bare resource ID or the type-qualified form
		if utils.MatchPattern(resID, p.Resource) || utils.MatchPattern(resKey, p.Resource) {
			return true, role.Name
		}
	}
	for _, parent := range role.Inherits {
		pr, err := e.model.Role(parent)
		if err != nil {
			continue
		}
		if granted, via := e.grants(pr, action, res, visited); granted {
			return true, via
		}
	}
	return false, ""
}
