package verdict

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	timeBetweenRe = regexp.MustCompile(`^env\.time\s+(between|outside)\s+"?(\d{1,2}:\d{2})"?\s*(?:-|to)\s*"?(\d{1,2}:\d{2})"?$`)
	cidrRe        = regexp.MustCompile(`^env\.ip\s+in_cidr\s+(\S+)$`)
	rateRe        = regexp.MustCompile(`^rate\(([^)]+)\)\s*>=\s*(\d+)$`)
	rangeRe       = regexp.MustCompile(`^range\(([^,]+),([^,]+),([^)]+)\)$`)
	regexRe       = regexp.MustCompile(`^regex\(([^,]+),(.+)\)$`)
	inRe          = regexp.MustCompile(`^([a-zA-Z0-9_.]+)\s+in\s*\[([^\]]*)\]$`)
	gteRe         = regexp.MustCompile(`^([a-zA-Z0-9_.]+)\s*>=\s*("[^"]*"|\S+)$`)
	neRe          = regexp.MustCompile(`^([a-zA-Z0-9_.]+)\s*!=\s*("[^"]*"|\S+)$`)
	eqRe          = regexp.MustCompile(`^([a-zA-Z0-9_.]+)\s*==\s*("[^"]*"|\S+)$`)
)

// ParseCondition parses a condition string into the Expr AST. The grammar
// deliberately covers the forms Expr.String produces, so persisted
// conditions round-trip. Supported forms:
//
//	true
//	<field> == <value>        <field> != <value>       <field> >= <value>
//	<field> in ["a","b"]
//	env.time between 09:00-18:00    env.time outside 22:00-06:00
//	env.ip in_cidr 10.0.0.0/8
//	rate(<counter>) >= <n>
//	range(<field>,<min>,<max>)
//	regex(<field>,<pattern>)
//	not (<expr>)
//	<expr> and <expr> [and ...]     <expr> or <expr> [or ...]
//
// Values may be quoted strings, numbers, or field references such as
// subject.id. Conjunction binds tighter than nothing: a condition uses
// either "and" chains or "or" chains, not both.
func ParseCondition(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "true" {
		return &TrueExpr{}, nil
	}

	if parts := splitClauses(s, " and "); len(parts) > 1 {
		return foldClauses(parts, func(l, r Expr) Expr { return &AndExpr{Left: l, Right: r} })
	}
	if parts := splitClauses(s, " or "); len(parts) > 1 {
		return foldClauses(parts, func(l, r Expr) Expr { return &OrExpr{Left: l, Right: r} })
	}

	if inner, ok := strings.CutPrefix(s, "not ("); ok && strings.HasSuffix(inner, ")") {
		e, err := ParseCondition(strings.TrimSuffix(inner, ")"))
		if err != nil {
			return nil, err
		}
		return &NotExpr{Inner: e}, nil
	}

	if m := timeBetweenRe.FindStringSubmatch(s); m != nil {
		tb := &TimeBetweenExpr{Start: m[2], End: m[3]}
		if m[1] == "outside" {
			return &NotExpr{Inner: tb}, nil
		}
		return tb, nil
	}
	if m := cidrRe.FindStringSubmatch(s); m != nil {
		return &CIDRExpr{CIDR: m[1]}, nil
	}
	if m := rateRe.FindStringSubmatch(s); m != nil {
		max, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rate limit %q: %w", m[2], err)
		}
		return &RateLimitExpr{Counter: strings.TrimSpace(m[1]), Max: max}, nil
	}
	if m := rangeRe.FindStringSubmatch(s); m != nil {
		min, err1 := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
		max, err2 := strconv.ParseFloat(strings.TrimSpace(m[3]), 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("range bounds in %q", s)
		}
		return &RangeExpr{Field: strings.TrimSpace(m[1]), Min: min, Max: max}, nil
	}
	if m := regexRe.FindStringSubmatch(s); m != nil {
		if _, err := regexp.Compile(m[2]); err != nil {
			return nil, fmt.Errorf("regex condition: %w", err)
		}
		return &RegexExpr{Field: strings.TrimSpace(m[1]), Pattern: m[2]}, nil
	}
	if m := inRe.FindStringSubmatch(s); m != nil {
		items := splitCSV(m[2])
		vals := make([]any, 0, len(items))
		for _, it := range items {
			vals = append(vals, parseValue(it))
		}
		return &InExpr{Field: m[1], Values: vals}, nil
	}
	if m := gteRe.FindStringSubmatch(s); m != nil {
		return &GteExpr{Field: m[1], Value: parseValue(m[2])}, nil
	}
	if m := neRe.FindStringSubmatch(s); m != nil {
		return &NeExpr{Field: m[1], Value: parseValue(m[2])}, nil
	}
	if m := eqRe.FindStringSubmatch(s); m != nil {
		return &EqExpr{Field: m[1], Value: parseValue(m[2])}, nil
	}

	return nil, fmt.Errorf("unsupported condition syntax: %s", s)
}

// MustParseCondition is ParseCondition that panics on error, for static
// rule tables and tests.
func MustParseCondition(s string) Expr {
	e, err := ParseCondition(s)
	if err != nil {
		panic(err)
	}
	return e
}

// splitClauses splits on sep outside of quotes, brackets and parens.
func splitClauses(s, sep string) []string {
	var parts []string
	depth := 0
	inQuote := false
	last := 0
	for i := 0; i+len(sep) <= len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '(', '[':
			if !inQuote {
				depth++
			}
		case ')', ']':
			if !inQuote {
				depth--
			}
		}
		if !inQuote && depth == 0 && s[i:i+len(sep)] == sep {
			parts = append(parts, strings.TrimSpace(s[last:i]))
			last = i + len(sep)
			i += len(sep) - 1
		}
	}
	parts = append(parts, strings.TrimSpace(s[last:]))
	return parts
}

func foldClauses(parts []string, join func(l, r Expr) Expr) (Expr, error) {
	out, err := ParseCondition(parts[0])
	if err != nil {
		return nil, err
	}
	for _, p := range parts[1:] {
		next, err := ParseCondition(p)
		if err != nil {
			return nil, err
		}
		out = join(out, next)
	}
	return out, nil
}

// parseValue interprets a literal token: quoted string, number, bool, or a
// bare string (field references stay as strings and are resolved at
// evaluation time).
func parseValue(tok string) any {
	tok = strings.TrimSpace(tok)
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	if n, err := strconv.Atoi(tok); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f
	}
	if tok == "true" {
		return true
	}
	if tok == "false" {
		return false
	}
	return strings.Trim(tok, "'")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
