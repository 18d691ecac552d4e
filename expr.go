package verdict

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Expr is a compiled condition over (subject, resource, action, environment).
// Attribute rules and context rules both use it; context rules only consult
// env.* fields.
type Expr interface {
	Evaluate(ctx *EvalContext) (bool, error)
	String() string
}

// EvalContext provides data for expression evaluation.
type EvalContext struct {
	Subject     *Subject
	Resource    *Resource
	Action      Action
	Environment *Environment
	// AttrsPartial is set when attribute enrichment timed out. Evaluators
	// that depend on attributes degrade to NotApplicable instead of
	// trusting an incomplete view.
	AttrsPartial bool
}

// isFieldRef reports whether a string value names a field of the evaluation
// context rather than a literal.
func isFieldRef(s string) bool {
	return s == "action" ||
		strings.HasPrefix(s, "subject.") ||
		strings.HasPrefix(s, "resource.") ||
		strings.HasPrefix(s, "env.")
}

func getField(ctx *EvalContext, field string) any {
	switch {
	case strings.HasPrefix(field, "subject."):
		return getSubjectField(ctx.Subject, field[len("subject."):])
	case strings.HasPrefix(field, "resource."):
		return getResourceField(ctx.Resource, field[len("resource."):])
	case strings.HasPrefix(field, "env."):
		return getEnvField(ctx.Environment, field[len("env."):])
	case field == "action":
		return string(ctx.Action)
	}
	return nil
}

func getSubjectField(s *Subject, field string) any {
	if s == nil {
		return nil
	}
	switch field {
	case "id":
		return s.ID
	case "roles":
		return s.Roles
	case "groups":
		return s.Groups
	case "clearance":
		return int(s.Clearance)
	default:
		if rest, ok := strings.CutPrefix(field, "attrs."); ok {
			return s.Attrs[rest]
		}
	}
	return nil
}

func getResourceField(r *Resource, field string) any {
	if r == nil {
		return nil
	}
	switch field {
	case "id":
		return r.ID
	case "type":
		return r.Type
	case "owner_id":
		return r.OwnerID
	case "label":
		return int(r.Label)
	default:
		if rest, ok := strings.CutPrefix(field, "attrs."); ok {
			return r.Attrs[rest]
		}
	}
	return nil
}

func getEnvField(e *Environment, field string) any {
	if e == nil {
		return nil
	}
	switch field {
	case "time":
		return e.Time
	case "ip":
		if e.IP == nil {
			return ""
		}
		return e.IP.String()
	default:
		if rest, ok := strings.CutPrefix(field, "extra."); ok {
			return e.Extra[rest]
		}
		if rest, ok := strings.CutPrefix(field, "counters."); ok {
			return e.Counters[rest]
		}
	}
	return nil
}

// compare returns 0 when a equals b, a negative value when a < b and a
// positive value when a > b. Numeric kinds are compared as float64 so that
// YAML ints, JSON floats and label levels interoperate. A []string on the
// left compares equal when it contains the right-hand string.
func compare(a, b any) int {
	if av, ok := a.([]string); ok {
		if bs, ok := b.(string); ok {
			for _, v := range av {
				if v == bs {
					return 0
				}
			}
			return -1
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af == bf:
			return 0
		case af < bf:
			return -1
		default:
			return 1
		}
	}
	return -1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case Label:
		return float64(n), true
	}
	return 0, false
}

// resolve returns the comparison value for the right-hand side of a binary
// expression, following field references like "subject.id".
func resolve(ctx *EvalContext, v any) any {
	if s, ok := v.(string); ok && isFieldRef(s) {
		return getField(ctx, s)
	}
	return v
}

// TrueExpr always holds (unconditional rule).
type TrueExpr struct{}

func (e *TrueExpr) Evaluate(*EvalContext) (bool, error) { return true, nil }
func (e *TrueExpr) String() string                      { return "true" }

// EqExpr compares a field to a literal or another field.
type EqExpr struct {
	Field string
	Value any
}

func (e *EqExpr) Evaluate(ctx *EvalContext) (bool, error) {
	return compare(getField(ctx, e.Field), resolve(ctx, e.Value)) == 0, nil
}

func (e *EqExpr) String() string {
	return fmt.Sprintf("%s == %s", e.Field, formatValue(e.Value))
}

// NeExpr is the negated equality check.
type NeExpr struct {
	Field string
	Value any
}

func (e *NeExpr) Evaluate(ctx *EvalContext) (bool, error) {
	return compare(getField(ctx, e.Field), resolve(ctx, e.Value)) != 0, nil
}

func (e *NeExpr) String() string {
	return fmt.Sprintf("%s != %s", e.Field, formatValue(e.Value))
}

// GteExpr holds when field >= value.
type GteExpr struct {
	Field string
	Value any
}

func (e *GteExpr) Evaluate(ctx *EvalContext) (bool, error) {
	return compare(getField(ctx, e.Field), resolve(ctx, e.Value)) >= 0, nil
}

func (e *GteExpr) String() string {
	return fmt.Sprintf("%s >= %s", e.Field, formatValue(e.Value))
}

// InExpr holds when the field value is a member of Values. When the field
// resolves to a string slice (subject.roles, subject.groups), membership is
// checked against each element.
type InExpr struct {
	Field  string
	Values []any
}

func (e *InExpr) Evaluate(ctx *EvalContext) (bool, error) {
	val := getField(ctx, e.Field)
	for _, v := range e.Values {
		if compare(val, resolve(ctx, v)) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = formatValue(v)
	}
	return fmt.Sprintf("%s in [%s]", e.Field, strings.Join(parts, ","))
}

// AndExpr is the logical conjunction, short-circuiting on the left.
type AndExpr struct {
	Left  Expr
	Right Expr
}

func (e *AndExpr) Evaluate(ctx *EvalContext) (bool, error) {
	l, err := e.Left.Evaluate(ctx)
	if err != nil || !l {
		return false, err
	}
	return e.Right.Evaluate(ctx)
}

func (e *AndExpr) String() string {
	return fmt.Sprintf("%s and %s", e.Left.String(), e.Right.String())
}

// OrExpr is the logical disjunction.
type OrExpr struct {
	Left  Expr
	Right Expr
}

func (e *OrExpr) Evaluate(ctx *EvalContext) (bool, error) {
	l, err := e.Left.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return e.Right.Evaluate(ctx)
}

func (e *OrExpr) String() string {
	return fmt.Sprintf("%s or %s", e.Left.String(), e.Right.String())
}

// NotExpr negates its inner expression.
type NotExpr struct {
	Inner Expr
}

func (e *NotExpr) Evaluate(ctx *EvalContext) (bool, error) {
	v, err := e.Inner.Evaluate(ctx)
	return !v, err
}

func (e *NotExpr) String() string {
	// "outside" keeps time-window negations readable and parseable
	if tb, ok := e.Inner.(*TimeBetweenExpr); ok {
		return fmt.Sprintf("env.time outside %s-%s", tb.Start, tb.End)
	}
	return fmt.Sprintf("not (%s)", e.Inner.String())
}

// TimeBetweenExpr holds when env.time falls inside [Start, End] (HH:MM,
// local clock). Windows crossing midnight are supported.
type TimeBetweenExpr struct {
	Start string
	End   string
}

func (e *TimeBetweenExpr) Evaluate(ctx *EvalContext) (bool, error) {
	start, err := time.Parse("15:04", e.Start)
	if err != nil {
		return false, err
	}
	end, err := time.Parse("15:04", e.End)
	if err != nil {
		return false, err
	}
	if ctx.Environment == nil {
		return false, nil
	}
	t := ctx.Environment.Time
	m := t.Hour()*60 + t.Minute()
	sm := start.Hour()*60 + start.Minute()
	em := end.Hour()*60 + end.Minute()
	if sm <= em {
		return m >= sm && m <= em, nil
	}
	return m >= sm || m <= em, nil
}

func (e *TimeBetweenExpr) String() string {
	return fmt.Sprintf("env.time between %s-%s", e.Start, e.End)
}

// CIDRExpr holds when env.ip belongs to the network.
type CIDRExpr struct {
	CIDR string
}

func (e *CIDRExpr) Evaluate(ctx *EvalContext) (bool, error) {
	if ctx.Environment == nil || ctx.Environment.IP == nil {
		return false, nil
	}
	_, ipnet, err := net.ParseCIDR(e.CIDR)
	if err != nil {
		return false, err
	}
	return ipnet.Contains(ctx.Environment.IP), nil
}

func (e *CIDRExpr) String() string {
	return fmt.Sprintf("env.ip in_cidr %s", e.CIDR)
}

// RangeExpr holds when a numeric field is within [Min, Max] inclusive.
type RangeExpr struct {
	Field string
	Min   float64
	Max   float64
}

func (e *RangeExpr) Evaluate(ctx *EvalContext) (bool, error) {
	f, ok := toFloat(getField(ctx, e.Field))
	if !ok {
		return false, nil
	}
	return f >= e.Min && f <= e.Max, nil
}

func (e *RangeExpr) String() string {
	return fmt.Sprintf("range(%s,%v,%v)", e.Field, e.Min, e.Max)
}

// RegexExpr matches a string field against a regular expression.
type RegexExpr struct {
	Field   string
	Pattern string
}

func (e *RegexExpr) Evaluate(ctx *EvalContext) (bool, error) {
	s, ok := getField(ctx, e.Field).(string)
	if !ok {
		return false, nil
	}
	r, err := regexp.Compile(e.Pattern)
	if err != nil {
		return false, err
	}
	return r.MatchString(s), nil
}

func (e *RegexExpr) String() string {
	return fmt.Sprintf("regex(%s,%s)", e.Field, e.Pattern)
}

// RateLimitExpr holds when the named request counter has reached Max. It is
// meant for blocking context rules: counter >= Max means "over the limit".
type RateLimitExpr struct {
	Counter string
	Max     int64
}

func (e *RateLimitExpr) Evaluate(ctx *EvalContext) (bool, error) {
	if ctx.Environment == nil {
		return false, nil
	}
	return ctx.Environment.Counters[e.Counter] >= e.Max, nil
}

func (e *RateLimitExpr) String() string {
	return fmt.Sprintf("rate(%s) >= %d", e.Counter, e.Max)
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		if isFieldRef(s) {
			return s
		}
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}
