package verdict

// Evaluator is one access-control model's view of a request. Evaluators are
// pure with respect to the request: they read the policy model snapshot and
// the evaluation context, and return a local Verdict. The engine owns
// ordering and combination.
type Evaluator interface {
	Name() string
	Evaluate(ctx *EvalContext) Verdict
}

func allowVerdict(name, rule, reason string) Verdict {
	return Verdict{Effect: Allow, Evaluator: name, Rule: rule, Reason: reason}
}

func denyVerdict(name, rule, reason string) Verdict {
	return Verdict{Effect: Deny, Evaluator: name, Rule: rule, Reason: reason}
}

func skipVerdict(name, reason string) Verdict {
	return Verdict{Effect: NotApplicable, Evaluator: name, Reason: reason}
}
