package verdict

import (
	"context"
	"sync"
	"time"
)

// AuditEntry is one line of the append-only explanation trail.
type AuditEntry struct {
	ID         string    `json:"id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SubjectID  string    `json:"subject_id"`
	ResourceID string    `json:"resource_id"`
	Action     Action    `json:"action"`
	Decision   *Decision `json:"decision"`
	// Evaluators lists every evaluator that contributed to the outcome.
	Evaluators []string `json:"evaluators"`
}

// AuditFilter narrows an audit query.
type AuditFilter struct {
	SubjectID  string
	ResourceID string
	Action     Action
	Start      time.Time
	End        time.Time
	Limit      int
}

// AuditRecorder captures which evaluators fired and why, for every
// decision. Record failures must never reach the authorization caller: the
// engine logs and drops them (fail-open for audit, fail-closed for
// authorization).
type AuditRecorder interface {
	Record(ctx context.Context, entry *AuditEntry) error
	Entries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// MemoryAuditRecorder keeps the trail in memory, append-only.
type MemoryAuditRecorder struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{}
}

func (r *MemoryAuditRecorder) Record(_ context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *MemoryAuditRecorder) Entries(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AuditEntry, 0)
	for _, e := range r.entries {
		if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Start.IsZero() && e.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && e.Timestamp.After(filter.End) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
