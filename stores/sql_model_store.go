package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/verdict"
)

// SQLModelStore persists policy model snapshots. Conditions are stored in
// the condition language's text form and re-parsed on load, so snapshots
// stay readable and diffable in the database.
type SQLModelStore struct {
	db *squealx.DB
}

func NewSQLModelStore(db *squealx.DB) (*SQLModelStore, error) {
	return &SQLModelStore{db: db}, nil
}

type attrRuleRow struct {
	ID           string `json:"id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	Condition    string `json:"condition"`
}

type ctxRuleRow struct {
	ID        string `json:"id"`
	Condition string `json:"condition"`
	Reason    string `json:"reason,omitempty"`
}

// Save writes the model's current contents as a new snapshot row.
func (s *SQLModelStore) Save(ctx context.Context, m *verdict.Model) error {
	export := m.Export()
	rolesB, err := json.Marshal(export.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	aclsB, err := json.Marshal(export.ACLs)
	if err != nil {
		return fmt.Errorf("marshal acls: %w", err)
	}
	attrRows := make([]attrRuleRow, 0, len(export.AttributeRules))
	for _, r := range export.AttributeRules {
		attrRows = append(attrRows, attrRuleRow{
			ID:           r.ID,
			Action:       string(r.Action),
			ResourceType: r.ResourceType,
			Condition:    r.Condition.String(),
		})
	}
	attrB, _ := json.Marshal(attrRows)
	ctxRows := make([]ctxRuleRow, 0, len(export.ContextRules))
	for _, r := range export.ContextRules {
		ctxRows = append(ctxRows, ctxRuleRow{
			ID:        r.ID,
			Condition: r.Condition.String(),
			Reason:    r.Reason,
		})
	}
	ctxB, _ := json.Marshal(ctxRows)

	q := `INSERT INTO model_snapshot(created_at, roles_json, acls_json, attr_rules_json, ctx_rules_json)
	      VALUES(:created_at, :roles_json, :acls_json, :attr_rules_json, :ctx_rules_json)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"created_at":      time.Now().UTC(),
		"roles_json":      string(rolesB),
		"acls_json":       string(aclsB),
		"attr_rules_json": string(attrB),
		"ctx_rules_json":  string(ctxB),
	})
	return err
}

// Load reads the latest snapshot and imports it into the model. A database
// with no snapshots returns verdict.ErrNotFound.
func (s *SQLModelStore) Load(ctx context.Context, m *verdict.Model) error {
	q := `SELECT roles_json, acls_json, attr_rules_json, ctx_rules_json FROM model_snapshot ORDER BY version DESC LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return verdict.ErrNotFound
		}
		return err
	}
	defer r.Close()
	if !r.Next() {
		return verdict.ErrNotFound
	}
	var rolesJSON, aclsJSON, attrJSON, ctxJSON string
	if err := r.Scan(&rolesJSON, &aclsJSON, &attrJSON, &ctxJSON); err != nil {
		return err
	}

	export := &verdict.ModelExport{}
	if err := json.Unmarshal([]byte(rolesJSON), &export.Roles); err != nil {
		return fmt.Errorf("unmarshal roles: %w", err)
	}
	if err := json.Unmarshal([]byte(aclsJSON), &export.ACLs); err != nil {
		return fmt.Errorf("unmarshal acls: %w", err)
	}
	var attrRows []attrRuleRow
	if err := json.Unmarshal([]byte(attrJSON), &attrRows); err != nil {
		return fmt.Errorf("unmarshal attribute rules: %w", err)
	}
	for _, row := range attrRows {
		cond, err := verdict.ParseCondition(row.Condition)
		if err != nil {
			return fmt.Errorf("attribute rule %s: %w", row.ID, err)
		}
		export.AttributeRules = append(export.AttributeRules, &verdict.AttributeRule{
			ID:           row.ID,
			Action:       verdict.Action(row.Action),
			ResourceType: row.ResourceType,
			Condition:    cond,
		})
	}
	var ctxRows []ctxRuleRow
	if err := json.Unmarshal([]byte(ctxJSON), &ctxRows); err != nil {
		return fmt.Errorf("unmarshal context rules: %w", err)
	}
	for _, row := range ctxRows {
		cond, err := verdict.ParseCondition(row.Condition)
		if err != nil {
			return fmt.Errorf("context rule %s: %w", row.ID, err)
		}
		export.ContextRules = append(export.ContextRules, &verdict.ContextRule{
			ID:        row.ID,
			Condition: cond,
			Reason:    row.Reason,
		})
	}
	return m.Import(export)
}
