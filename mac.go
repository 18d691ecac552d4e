package verdict

import "fmt"

// MACEvaluator enforces the mandatory label ceiling. A subject whose
// clearance is below the resource label is denied outright; nothing can
// override that. With sufficient clearance it allows only when no
// finer-grained attribute rules are registered for the (action, type) pair;
// if such rules exist they carry the decision and MAC steps aside. An
// unlabeled resource is outside MAC's jurisdiction.
type MACEvaluator struct {
	model *Model
}

func NewMACEvaluator(m *Model) *MACEvaluator { return &MACEvaluator{model: m} }

func (e *MACEvaluator) Name() string { return "mac" }

func (e *MACEvaluator) Evaluate(ctx *EvalContext) Verdict {
	res := ctx.Resource
	if res.Label == LabelNone {
		return skipVerdict(e.Name(), "resource carries no label")
	}
	if ctx.AttrsPartial && ctx.Subject.Clearance == LabelNone {
		return skipVerdict(e.Name(), "clearance unavailable: attribute fetch timed out")
	}
	if ctx.Subject.Clearance < res.Label {
		return denyVerdict(e.Name(), "label-ceiling",
			fmt.Sprintf("clearance %q below label %q", ctx.Subject.Clearance, res.Label))
	}
	if len(e.model.AttributeRules(ctx.Action, res.Type)) > 0 {
		return skipVerdict(e.Name(), "finer-grained attribute rules registered")
	}
	return allowVerdict(e.Name(), "label-ceiling",
		fmt.Sprintf("clearance %q covers label %q", ctx.Subject.Clearance, res.Label))
}
