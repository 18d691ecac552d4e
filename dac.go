package verdict

import "fmt"

// DACEvaluator implements owner-first discretionary access control. The
// resource owner always gets Allow, even with an empty ACL. Otherwise the
// resource's ACL entries are scanned in insertion order and the first entry
// matching (grantee, action) decides. No match means NotApplicable.
type DACEvaluator struct {
	model *Model
}

func NewDACEvaluator(m *Model) *DACEvaluator { return &DACEvaluator{model: m} }

func (e *DACEvaluator) Name() string { return "dac" }

func (e *DACEvaluator) Evaluate(ctx *EvalContext) Verdict {
	sub, res := ctx.Subject, ctx.Resource
	if res.OwnerID != "" && res.OwnerID == sub.ID {
		return allowVerdict(e.Name(), "owner", "subject owns the resource")
	}
	if res.OwnerID == "" && sub.Owned[res.ID] {
		return allowVerdict(e.Name(), "owner", "subject owns the resource")
	}

	for _, entry := range e.model.ResourceACL(res.ID) {
		if !entry.Matches(sub, ctx.Action) {
			continue
		}
		reason := fmt.Sprintf("acl entry for %q", entry.Grantee)
		if entry.Effect == Deny {
			return denyVerdict(e.Name(), entry.Grantee, reason)
		}
		return allowVerdict(e.Name(), entry.Grantee, reason)
	}
	return skipVerdict(e.Name(), "no owner match and no acl entry")
}
