package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/verdict"
	"github.com/oarkflow/verdict/logger"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLAuditRecorderRoundtrip(t *testing.T) {
	db := newTestDB(t)
	rec, _ := NewSQLAuditRecorder(db)

	entry := &verdict.AuditEntry{
		ID:         "evt-1",
		TraceID:    "trace-abc-123",
		Timestamp:  time.Now(),
		SubjectID:  "user-x",
		ResourceID: "doc-1",
		Action:     verdict.Action("read"),
		Decision: &verdict.Decision{
			Allowed:   true,
			Reason:    "role editor grants read",
			MatchedBy: "editor",
			Trace:     []string{"rbac: allow (role editor grants read)"},
		},
		Evaluators: []string{"rbac"},
	}
	if err := rec.Record(context.Background(), entry); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := rec.Entries(context.Background(), verdict.AuditFilter{SubjectID: "user-x", Limit: 10})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.TraceID != "trace-abc-123" {
		t.Fatalf("trace_id = %q", e.TraceID)
	}
	if !e.Decision.Allowed || e.Decision.MatchedBy != "editor" {
		t.Fatalf("decision = %+v", e.Decision)
	}
	if len(e.Evaluators) != 1 || e.Evaluators[0] != "rbac" {
		t.Fatalf("evaluators = %v", e.Evaluators)
	}
}

func TestSQLAuditRecorderFilters(t *testing.T) {
	db := newTestDB(t)
	rec, _ := NewSQLAuditRecorder(db)
	ctx := context.Background()

	for i, sub := range []string{"alice", "bob", "alice"} {
		entry := &verdict.AuditEntry{
			ID:         string(rune('a' + i)),
			Timestamp:  time.Now(),
			SubjectID:  sub,
			ResourceID: "doc-1",
			Action:     verdict.Action("read"),
			Decision:   &verdict.Decision{Allowed: false, Reason: "no evaluator granted access"},
		}
		if err := rec.Record(ctx, entry); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := rec.Entries(ctx, verdict.AuditFilter{SubjectID: "alice"})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alice entries, got %d", len(got))
	}
	got, err = rec.Entries(ctx, verdict.AuditFilter{SubjectID: "alice", Limit: 1})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("limit ignored, got %d", len(got))
	}
}

func TestSQLAuditRecorderKeepsSameInstantDecisions(t *testing.T) {
	db := newTestDB(t)
	rec, _ := NewSQLAuditRecorder(db)
	fixed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	e, err := verdict.NewEngine(verdict.NewModel(),
		verdict.WithAuditRecorder(rec),
		verdict.WithLogger(logger.NewNullLogger()),
		verdict.WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	// a pinned clock stamps every decision with the same instant; the
	// trail must still keep all of them
	e.Authorize(ctx, &verdict.Subject{ID: "alice"}, "read", &verdict.Resource{ID: "doc-1", Type: "doc"}, nil)
	e.Authorize(ctx, &verdict.Subject{ID: "bob"}, "read", &verdict.Resource{ID: "doc-1", Type: "doc"}, nil)
	e.Close()

	got, err := rec.Entries(ctx, verdict.AuditFilter{ResourceID: "doc-1"})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("audit trail lost entries: got %d, want 2", len(got))
	}
	if got[0].ID == got[1].ID {
		t.Fatalf("duplicate audit id %q", got[0].ID)
	}
}

func TestSQLModelStoreSnapshotRoundtrip(t *testing.T) {
	db := newTestDB(t)
	store, _ := NewSQLModelStore(db)
	ctx := context.Background()

	m := verdict.NewModel()
	role := verdict.NewRoleBuilder("editor").
		Permission("read", "doc:*").
		Permission("write", "doc:*").
		Build()
	if err := m.AddRole(role); err != nil {
		t.Fatalf("add role: %v", err)
	}
	if err := m.AddACLEntry("doc:1", verdict.NewACLEntryBuilder("bob").Actions("read").Deny().Build()); err != nil {
		t.Fatalf("add acl: %v", err)
	}
	attrRule, err := verdict.NewAttributeRuleBuilder("own-dept").
		Action("read").
		ResourceType("doc").
		WhenString(`subject.attrs.dept == resource.attrs.dept`).
		Build()
	if err != nil {
		t.Fatalf("build rule: %v", err)
	}
	if err := m.AddAttributeRule(attrRule); err != nil {
		t.Fatalf("add attribute rule: %v", err)
	}
	ctxRule, err := verdict.NewContextRuleBuilder("office-hours").
		WhenString(`env.time outside 09:00-17:00`).
		Reason("outside office hours").
		Build()
	if err != nil {
		t.Fatalf("build context rule: %v", err)
	}
	if err := m.AddContextRule(ctxRule); err != nil {
		t.Fatalf("add context rule: %v", err)
	}

	if err := store.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := verdict.NewModel()
	if err := store.Load(ctx, restored); err != nil {
		t.Fatalf("load: %v", err)
	}
	r, err := restored.Role("editor")
	if err != nil {
		t.Fatalf("restored role: %v", err)
	}
	if len(r.Permissions) != 2 {
		t.Fatalf("permissions = %v", r.Permissions)
	}
	acl := restored.ResourceACL("doc:1")
	if len(acl) != 1 || acl[0].Grantee != "bob" || acl[0].Effect != verdict.Deny {
		t.Fatalf("acl = %+v", acl)
	}
	rules := restored.AttributeRules("read", "doc")
	if len(rules) != 1 || rules[0].Condition.String() != attrRule.Condition.String() {
		t.Fatalf("attribute rules = %+v", rules)
	}
	ctxRules := restored.ContextRules()
	if len(ctxRules) != 1 || ctxRules[0].Reason != "outside office hours" {
		t.Fatalf("context rules = %+v", ctxRules)
	}
}

func TestSQLModelStoreLoadEmpty(t *testing.T) {
	db := newTestDB(t)
	store, _ := NewSQLModelStore(db)
	err := store.Load(context.Background(), verdict.NewModel())
	if !errors.Is(err, verdict.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
