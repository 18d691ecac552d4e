package verdict

import (
	"net"
	"testing"
	"time"
)

func exprCtx() *EvalContext {
	return &EvalContext{
		Subject: &Subject{
			ID:        "alice",
			Roles:     []string{"teacher", "staff"},
			Groups:    []string{"faculty"},
			Clearance: LabelSecret,
			Attrs:     map[string]any{"dept": "math", "age": 34},
		},
		Resource: &Resource{
			ID:      "doc:1",
			Type:    "doc",
			OwnerID: "bob",
			Label:   LabelConfidential,
			Attrs:   map[string]any{"dept": "math", "sensitivity": 2},
		},
		Action: "read",
		Environment: &Environment{
			Time:     time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
			IP:       net.ParseIP("10.1.2.3"),
			Counters: map[string]int64{"req:alice": 5},
		},
	}
}

func TestEqExprFieldAndLiteral(t *testing.T) {
	ctx := exprCtx()
	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"literal match", &EqExpr{Field: "subject.attrs.dept", Value: "math"}, true},
		{"literal mismatch", &EqExpr{Field: "subject.attrs.dept", Value: "physics"}, false},
		{"field vs field", &EqExpr{Field: "subject.attrs.dept", Value: "resource.attrs.dept"}, true},
		{"owner mismatch", &EqExpr{Field: "resource.owner_id", Value: "subject.id"}, false},
		{"action", &EqExpr{Field: "action", Value: "read"}, true},
		{"roles contain", &EqExpr{Field: "subject.roles", Value: "teacher"}, true},
		{"roles missing", &EqExpr{Field: "subject.roles", Value: "admin"}, false},
		{"missing attr", &EqExpr{Field: "subject.attrs.nope", Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.expr.Evaluate(ctx)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGteExprNumericKinds(t *testing.T) {
	ctx := exprCtx()
	// clearance resolves to an int, literals may arrive as int or float
	for _, v := range []any{int(LabelSecret), float64(LabelSecret), int64(LabelConfidential)} {
		ok, err := (&GteExpr{Field: "subject.clearance", Value: v}).Evaluate(ctx)
		if err != nil || !ok {
			t.Fatalf("clearance >= %v: ok=%v err=%v", v, ok, err)
		}
	}
	ok, _ := (&GteExpr{Field: "subject.clearance", Value: int(LabelTopSecret)}).Evaluate(ctx)
	if ok {
		t.Fatal("secret clearance must not satisfy >= topsecret")
	}
}

func TestInExpr(t *testing.T) {
	ctx := exprCtx()
	ok, _ := (&InExpr{Field: "subject.attrs.dept", Values: []any{"physics", "math"}}).Evaluate(ctx)
	if !ok {
		t.Fatal("dept should be in list")
	}
	ok, _ = (&InExpr{Field: "subject.roles", Values: []any{"admin", "teacher"}}).Evaluate(ctx)
	if !ok {
		t.Fatal("role membership should satisfy in")
	}
	ok, _ = (&InExpr{Field: "subject.attrs.dept", Values: []any{"physics"}}).Evaluate(ctx)
	if ok {
		t.Fatal("dept not in list")
	}
}

func TestTimeBetweenExpr(t *testing.T) {
	ctx := exprCtx() // 10:30
	tests := []struct {
		start, end string
		want       bool
	}{
		{"09:00", "18:00", true},
		{"11:00", "18:00", false},
		{"10:30", "10:30", true},
		// window crossing midnight
		{"22:00", "11:00", true},
		{"22:00", "06:00", false},
	}
	for _, tt := range tests {
		got, err := (&TimeBetweenExpr{Start: tt.start, End: tt.end}).Evaluate(ctx)
		if err != nil {
			t.Fatalf("%s-%s: %v", tt.start, tt.end, err)
		}
		if got != tt.want {
			t.Fatalf("%s-%s: got %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}

	// no environment means no clock to test against
	bare := &EvalContext{Subject: ctx.Subject, Resource: ctx.Resource, Action: ctx.Action}
	got, err := (&TimeBetweenExpr{Start: "09:00", End: "18:00"}).Evaluate(bare)
	if err != nil || got {
		t.Fatalf("nil environment: got %v, %v", got, err)
	}
}

func TestCIDRExpr(t *testing.T) {
	ctx := exprCtx()
	ok, err := (&CIDRExpr{CIDR: "10.0.0.0/8"}).Evaluate(ctx)
	if err != nil || !ok {
		t.Fatalf("10.1.2.3 in 10.0.0.0/8: ok=%v err=%v", ok, err)
	}
	ok, _ = (&CIDRExpr{CIDR: "192.168.0.0/16"}).Evaluate(ctx)
	if ok {
		t.Fatal("10.1.2.3 not in 192.168.0.0/16")
	}
	// no IP in the environment never matches
	ctx.Environment.IP = nil
	ok, _ = (&CIDRExpr{CIDR: "10.0.0.0/8"}).Evaluate(ctx)
	if ok {
		t.Fatal("missing ip must not match")
	}
}

func TestRateLimitExpr(t *testing.T) {
	ctx := exprCtx() // req:alice = 5
	ok, _ := (&RateLimitExpr{Counter: "req:alice", Max: 5}).Evaluate(ctx)
	if !ok {
		t.Fatal("counter at limit should trip")
	}
	ok, _ = (&RateLimitExpr{Counter: "req:alice", Max: 6}).Evaluate(ctx)
	if ok {
		t.Fatal("counter below limit should not trip")
	}
	ok, _ = (&RateLimitExpr{Counter: "req:unknown", Max: 1}).Evaluate(ctx)
	if ok {
		t.Fatal("unknown counter reads as zero")
	}
}

func TestRangeAndRegexExpr(t *testing.T) {
	ctx := exprCtx()
	ok, _ := (&RangeExpr{Field: "subject.attrs.age", Min: 18, Max: 65}).Evaluate(ctx)
	if !ok {
		t.Fatal("34 within [18,65]")
	}
	ok, _ = (&RangeExpr{Field: "subject.attrs.age", Min: 40, Max: 65}).Evaluate(ctx)
	if ok {
		t.Fatal("34 outside [40,65]")
	}
	ok, _ = (&RegexExpr{Field: "subject.id", Pattern: "^ali"}).Evaluate(ctx)
	if !ok {
		t.Fatal("regex should match alice")
	}
}

func TestBooleanComposition(t *testing.T) {
	ctx := exprCtx()
	e := &AndExpr{
		Left:  &EqExpr{Field: "subject.attrs.dept", Value: "resource.attrs.dept"},
		Right: &GteExpr{Field: "subject.clearance", Value: 2},
	}
	ok, _ := e.Evaluate(ctx)
	if !ok {
		t.Fatal("both sides hold")
	}
	o := &OrExpr{
		Left:  &EqExpr{Field: "subject.id", Value: "nobody"},
		Right: &EqExpr{Field: "action", Value: "read"},
	}
	ok, _ = o.Evaluate(ctx)
	if !ok {
		t.Fatal("right side holds")
	}
	n := &NotExpr{Inner: &EqExpr{Field: "subject.id", Value: "nobody"}}
	ok, _ = n.Evaluate(ctx)
	if !ok {
		t.Fatal("negation of false")
	}
}
