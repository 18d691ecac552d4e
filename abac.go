package verdict

import "fmt"

// ABACEvaluator is closed-world: when attribute rules exist for the
// (action, resource type) pair, one of them must hold or the verdict is
// Deny. With no rules registered for the pair it stays out of the decision
// (NotApplicable). When attribute enrichment timed out the evaluator
// refuses to judge an incomplete attribute view and degrades to
// NotApplicable as well.
type ABACEvaluator struct {
	model *Model
}

func NewABACEvaluator(m *Model) *ABACEvaluator { return &ABACEvaluator{model: m} }

func (e *ABACEvaluator) Name() string { return "abac" }

func (e *ABACEvaluator) Evaluate(ctx *EvalContext) Verdict {
	rules := e.model.AttributeRules(ctx.Action, ctx.Resource.Type)
	if len(rules) == 0 {
		return skipVerdict(e.Name(), "no attribute rules for action and type")
	}
	if ctx.AttrsPartial {
		return skipVerdict(e.Name(), "attribute fetch timed out")
	}
	for _, r := range rules {
		ok, err := r.Condition.Evaluate(ctx)
		if err != nil {
			continue
		}
		if ok {
			return allowVerdict(e.Name(), r.ID, fmt.Sprintf("rule %q matched", r.ID))
		}
	}
	return denyVerdict(e.Name(), "", "attribute rules exist but none matched")
}
