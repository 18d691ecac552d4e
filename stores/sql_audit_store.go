package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/verdict"
)

// SQLAuditRecorder persists the audit trail in SQL through squealx. It
// satisfies verdict.AuditRecorder; the engine calls Record from its audit
// worker, off the request path.
type SQLAuditRecorder struct {
	db *squealx.DB
}

func NewSQLAuditRecorder(db *squealx.DB) (*SQLAuditRecorder, error) {
	return &SQLAuditRecorder{db: db}, nil
}

func (s *SQLAuditRecorder) Record(ctx context.Context, entry *verdict.AuditEntry) error {
	evalB, _ := json.Marshal(entry.Evaluators)
	traceB := []byte("[]")
	allowed, matchedBy, reason := false, "", ""
	if entry.Decision != nil {
		allowed = entry.Decision.Allowed
		matchedBy = entry.Decision.MatchedBy
		reason = entry.Decision.Reason
		traceB, _ = json.Marshal(entry.Decision.Trace)
	}
	q := `INSERT INTO audit_log(id, trace_id, timestamp, subject_id, resource_id, action, allowed, matched_by, reason, evaluators_json, trace_json)
	      VALUES(:id, :trace_id, :timestamp, :subject_id, :resource_id, :action, :allowed, :matched_by, :reason, :evaluators_json, :trace_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              entry.ID,
		"trace_id":        entry.TraceID,
		"timestamp":       entry.Timestamp,
		"subject_id":      entry.SubjectID,
		"resource_id":     entry.ResourceID,
		"action":          string(entry.Action),
		"allowed":         boolToInt(allowed),
		"matched_by":      matchedBy,
		"reason":          reason,
		"evaluators_json": string(evalB),
		"trace_json":      string(traceB),
	})
	return err
}

func (s *SQLAuditRecorder) Entries(ctx context.Context, filter verdict.AuditFilter) ([]*verdict.AuditEntry, error) {
	q := `SELECT id, trace_id, timestamp, subject_id, resource_id, action, allowed, matched_by, reason, evaluators_json, trace_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != "" {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.ResourceID != "" {
		q += " AND resource_id = :resource_id"
		params["resource_id"] = filter.ResourceID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.Start.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.Start
	}
	if !filter.End.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.End
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*verdict.AuditEntry, 0)
	for r.Next() {
		var id, traceID, subject, resource, action, matchedBy, reason, evalJSON, traceJSON string
		var timestampRaw any
		var allowedInt int
		if err := r.Scan(&id, &traceID, &timestampRaw, &subject, &resource, &action, &allowedInt, &matchedBy, &reason, &evalJSON, &traceJSON); err != nil {
			return nil, err
		}
		entry := &verdict.AuditEntry{
			ID:         id,
			TraceID:    traceID,
			Timestamp:  scanTime(timestampRaw),
			SubjectID:  subject,
			ResourceID: resource,
			Action:     verdict.Action(action),
			Decision: &verdict.Decision{
				Allowed:   allowedInt != 0,
				MatchedBy: matchedBy,
				Reason:    reason,
			},
		}
		_ = json.Unmarshal([]byte(evalJSON), &entry.Evaluators)
		_ = json.Unmarshal([]byte(traceJSON), &entry.Decision.Trace)
		entry.Decision.Evaluators = entry.Evaluators
		out = append(out, entry)
	}
	return out, nil
}
