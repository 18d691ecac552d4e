package verdict

// RuBACEvaluator evaluates context-only rules: time windows, source network
// identity and rate counters. It knows nothing about subject or resource
// identity. Any matching rule blocks the request; with no match it stays
// out of the decision.
type RuBACEvaluator struct {
	model *Model
}

func NewRuBACEvaluator(m *Model) *RuBACEvaluator { return &RuBACEvaluator{model: m} }

func (e *RuBACEvaluator) Name() string { return "rubac" }

func (e *RuBACEvaluator) Evaluate(ctx *EvalContext) Verdict {
	for _, r := range e.model.ContextRules() {
		blocked, err := r.Condition.Evaluate(ctx)
		if err != nil || !blocked {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = "context rule matched"
		}
		return denyVerdict(e.Name(), r.ID, reason)
	}
	return skipVerdict(e.Name(), "no blocking context rule matched")
}
