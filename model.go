package verdict

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Model is the canonical policy store: roles, per-resource ACLs, attribute
// rules and context rules, behind a monotonically increasing version
// counter. Every mutation produces a fresh immutable snapshot and bumps the
// version atomically, so the read path is a single atomic pointer load and
// never blocks on writers. The version lets the decision cache detect stale
// entries with one integer comparison.
type Model struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[modelSnapshot]
}

type modelSnapshot struct {
	version   int64
	roles     map[string]*Role
	acls      map[string][]ACLEntry // resourceID -> ordered entries
	attrRules []*AttributeRule
	ctxRules  []*ContextRule
}

func NewModel() *Model {
	m := &Model{}
	m.snap.Store(&modelSnapshot{
		roles: make(map[string]*Role),
		acls:  make(map[string][]ACLEntry),
	})
	return m
}

// Version returns the current model version. It starts at 0 and advances by
// one on every successful mutation.
func (m *Model) Version() int64 {
	return m.snap.Load().version
}

// Role returns the role with the given name, or ErrNotFound.
func (m *Model) Role(name string) (*Role, error) {
	if r, ok := m.snap.Load().roles[name]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
}

// ResourceACL returns the ordered ACL entries for a resource. The returned
// slice belongs to the current snapshot and must not be mutated.
func (m *Model) ResourceACL(resourceID string) []ACLEntry {
	return m.snap.Load().acls[resourceID]
}

// AttributeRules returns the attribute rules registered for the action and
// resource type. Rules registered without a resource type apply to every
// type.
func (m *Model) AttributeRules(action Action, resourceType string) []*AttributeRule {
	snap := m.snap.Load()
	var out []*AttributeRule
	for _, r := range snap.attrRules {
		if r.Action != action {
			continue
		}
		if r.ResourceType != "" && r.ResourceType != resourceType {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ContextRules returns every registered context rule.
func (m *Model) ContextRules() []*ContextRule {
	return m.snap.Load().ctxRules
}

// mutate runs fn against a writable copy of the snapshot and publishes the
// result with the version advanced by one. fn returning an error discards
// the copy and leaves the version untouched.
func (m *Model) mutate(fn func(*modelSnapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.snap.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	next.version++
	m.snap.Store(next)
	return nil
}

func (s *modelSnapshot) clone() *modelSnapshot {
	next := &modelSnapshot{
		version:   s.version,
		roles:     make(map[string]*Role, len(s.roles)),
		acls:      make(map[string][]ACLEntry, len(s.acls)),
		attrRules: append([]*AttributeRule(nil), s.attrRules...),
		ctxRules:  append([]*ContextRule(nil), s.ctxRules...),
	}
	for k, v := range s.roles {
		next.roles[k] = v
	}
	for k, v := range s.acls {
		next.acls[k] = v
	}
	return next
}

// AddRole registers or replaces a role.
func (m *Model) AddRole(r *Role) error {
	if r == nil || r.Name == "" {
		return fmt.Errorf("role must have a name")
	}
	cp := *r
	cp.Permissions = append([]Permission(nil), r.Permissions...)
	cp.Inherits = append([]string(nil), r.Inherits...)
	return m.mutate(func(s *modelSnapshot) error {
		s.roles[cp.Name] = &cp
		return nil
	})
}

// RemoveRole deletes a role. Unknown names are reported as ErrNotFound.
func (m *Model) RemoveRole(name string) error {
	return m.mutate(func(s *modelSnapshot) error {
		if _, ok := s.roles[name]; !ok {
			return fmt.Errorf("role %q: %w", name, ErrNotFound)
		}
		delete(s.roles, name)
		return nil
	})
}

// GrantPermission adds a permission to an existing role. Adding to a role is
// monotonic: it can only widen what holders of the role may do.
func (m *Model) GrantPermission(roleName string, p Permission) error {
	return m.mutate(func(s *modelSnapshot) error {
		r, ok := s.roles[roleName]
		if !ok {
			return fmt.Errorf("role %q: %w", roleName, ErrNotFound)
		}
		cp := *r
		cp.Permissions = append(append([]Permission(nil), r.Permissions...), p)
		s.roles[roleName] = &cp
		return nil
	})
}

// AddACLEntry appends an entry to a resource's ACL. A second entry for the
// same (grantee, action) pair is rejected with a ConflictError so that the
// first-match-wins scan never has to disambiguate duplicates.
func (m *Model) AddACLEntry(resourceID string, e ACLEntry) error {
	if e.Grantee == "" || len(e.Actions) == 0 {
		return fmt.Errorf("acl entry needs a grantee and at least one action")
	}
	if e.Effect != Allow && e.Effect != Deny {
		return fmt.Errorf("acl entry effect must be allow or deny")
	}
	return m.mutate(func(s *modelSnapshot) error {
		existing := s.acls[resourceID]
		for _, old := range existing {
			if old.Grantee != e.Grantee {
				continue
			}
			for _, oa := range old.Actions {
				for _, na := range e.Actions {
					if oa == na {
						return &ConflictError{Resource: resourceID, Grantee: e.Grantee, Action: na}
					}
				}
			}
		}
		cp := e
		cp.Actions = append([]Action(nil), e.Actions...)
		s.acls[resourceID] = append(append([]ACLEntry(nil), existing...), cp)
		return nil
	})
}

// RemoveACLEntries drops every entry for the grantee on the resource.
func (m *Model) RemoveACLEntries(resourceID, grantee string) error {
	return m.mutate(func(s *modelSnapshot) error {
		existing := s.acls[resourceID]
		kept := make([]ACLEntry, 0, len(existing))
		for _, e := range existing {
			if e.Grantee != grantee {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(existing) {
			return fmt.Errorf("acl entries for %q on %q: %w", grantee, resourceID, ErrNotFound)
		}
		if len(kept) == 0 {
			delete(s.acls, resourceID)
		} else {
			s.acls[resourceID] = kept
		}
		return nil
	})
}

// AddAttributeRule registers an attribute-condition rule.
func (m *Model) AddAttributeRule(r *AttributeRule) error {
	if r == nil || r.ID == "" || r.Action == "" || r.Condition == nil {
		return fmt.Errorf("attribute rule needs an id, an action and a condition")
	}
	cp := *r
	return m.mutate(func(s *modelSnapshot) error {
		for i, old := range s.attrRules {
			if old.ID == cp.ID {
				s.attrRules[i] = &cp
				return nil
			}
		}
		s.attrRules = append(s.attrRules, &cp)
		return nil
	})
}

// RemoveAttributeRule deletes a rule by ID.
func (m *Model) RemoveAttributeRule(id string) error {
	return m.mutate(func(s *modelSnapshot) error {
		for i, r := range s.attrRules {
			if r.ID == id {
				s.attrRules = append(s.attrRules[:i:i], s.attrRules[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("attribute rule %q: %w", id, ErrNotFound)
	})
}

// AddContextRule registers a context-only blocking rule.
func (m *Model) AddContextRule(r *ContextRule) error {
	if r == nil || r.ID == "" || r.Condition == nil {
		return fmt.Errorf("context rule needs an id and a condition")
	}
	cp := *r
	return m.mutate(func(s *modelSnapshot) error {
		for i, old := range s.ctxRules {
			if old.ID == cp.ID {
				s.ctxRules[i] = &cp
				return nil
			}
		}
		s.ctxRules = append(s.ctxRules, &cp)
		return nil
	})
}

// RemoveContextRule deletes a rule by ID.
func (m *Model) RemoveContextRule(id string) error {
	return m.mutate(func(s *modelSnapshot) error {
		for i, r := range s.ctxRules {
			if r.ID == id {
				s.ctxRules = append(s.ctxRules[:i:i], s.ctxRules[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("context rule %q: %w", id, ErrNotFound)
	})
}

// ModelExport is a serializable view of the whole policy set, used by the
// config loader and the SQL snapshot store.
type ModelExport struct {
	Roles          []*Role                `json:"roles"`
	ACLs           map[string][]ACLEntry  `json:"acls"`
	AttributeRules []*AttributeRule       `json:"attribute_rules"`
	ContextRules   []*ContextRule         `json:"context_rules"`
}

// Export copies the current snapshot into a ModelExport.
func (m *Model) Export() *ModelExport {
	snap := m.snap.Load()
	out := &ModelExport{
		Roles:          make([]*Role, 0, len(snap.roles)),
		ACLs:           make(map[string][]ACLEntry, len(snap.acls)),
		AttributeRules: append([]*AttributeRule(nil), snap.attrRules...),
		ContextRules:   append([]*ContextRule(nil), snap.ctxRules...),
	}
	for _, r := range snap.roles {
		out.Roles = append(out.Roles, r)
	}
	for k, v := range snap.acls {
		out.ACLs[k] = append([]ACLEntry(nil), v...)
	}
	return out
}

// Import merges an export into the model as one mutation (one version bump).
// Duplicate (grantee, action) ACL pairs in the export are rejected the same
// way AddACLEntry rejects them.
func (m *Model) Import(exp *ModelExport) error {
	if exp == nil {
		return nil
	}
	return m.mutate(func(s *modelSnapshot) error {
		for _, r := range exp.Roles {
			cp := *r
			s.roles[cp.Name] = &cp
		}
		for resourceID, entries := range exp.ACLs {
			seen := make(map[string]map[Action]bool)
			for _, old := range s.acls[resourceID] {
				if seen[old.Grantee] == nil {
					seen[old.Grantee] = make(map[Action]bool)
				}
				for _, a := range old.Actions {
					seen[old.Grantee][a] = true
				}
			}
			merged := append([]ACLEntry(nil), s.acls[resourceID]...)
			for _, e := range entries {
				for _, a := range e.Actions {
					if seen[e.Grantee][a] {
						return &ConflictError{Resource: resourceID, Grantee: e.Grantee, Action: a}
					}
					if seen[e.Grantee] == nil {
						seen[e.Grantee] = make(map[Action]bool)
					}
					seen[e.Grantee][a] = true
				}
				merged = append(merged, e)
			}
			s.acls[resourceID] = merged
		}
		for _, r := range exp.AttributeRules {
			cp := *r
			s.attrRules = append(s.attrRules, &cp)
		}
		for _, r := range exp.ContextRules {
			cp := *r
			s.ctxRules = append(s.ctxRules, &cp)
		}
		return nil
	})
}
