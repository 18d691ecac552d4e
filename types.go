package verdict

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Action identifies how a resource is being accessed, e.g. "read" or "grade".
type Action string

// Label is a security classification. Labels form a strict total order:
// Public < Confidential < Secret < TopSecret. The zero value means the
// resource is unlabeled (or the subject has no clearance).
type Label uint8

const (
	LabelNone Label = iota
	LabelPublic
	LabelConfidential
	LabelSecret
	LabelTopSecret
)

var labelNames = map[Label]string{
	LabelNone:         "",
	LabelPublic:       "public",
	LabelConfidential: "confidential",
	LabelSecret:       "secret",
	LabelTopSecret:    "topsecret",
}

func (l Label) String() string { return labelNames[l] }

// ParseLabel parses a label name. The empty string parses to LabelNone.
func ParseLabel(s string) (Label, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range labelNames {
		if name == s {
			return l, nil
		}
	}
	return LabelNone, fmt.Errorf("unknown security label %q", s)
}

// Subject is the already-resolved principal requesting access.
type Subject struct {
	ID        string         `json:"id"`
	Roles     []string       `json:"roles"`
	Groups    []string       `json:"groups"`
	Clearance Label          `json:"clearance"`
	Attrs     map[string]any `json:"attrs"`
	// Owned lists resource IDs the subject owns. Resource.OwnerID takes
	// precedence when both are present.
	Owned map[string]bool `json:"owned,omitempty"`
}

// Resource is the already-resolved target of the request.
type Resource struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	OwnerID string         `json:"owner_id"`
	Label   Label          `json:"label"`
	Attrs   map[string]any `json:"attrs"`
}

// Environment carries the request-scoped context consulted by context-only
// rules: wall-clock time, source network identity and rate counters.
type Environment struct {
	Time     time.Time        `json:"time"`
	IP       net.IP           `json:"ip"`
	Counters map[string]int64 `json:"counters,omitempty"`
	Extra    map[string]any   `json:"extra,omitempty"`
}

// Effect is a single evaluator's local opinion before combination.
type Effect uint8

const (
	NotApplicable Effect = iota
	Allow
	Deny
)

func (e Effect) String() string {
	switch e {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "not_applicable"
	}
}

// ParseEffect parses "allow" or "deny".
func ParseEffect(s string) (Effect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	}
	return NotApplicable, fmt.Errorf("unknown effect %q", s)
}

// Verdict is what a single evaluator returns for one request.
type Verdict struct {
	Effect    Effect `json:"effect"`
	Evaluator string `json:"evaluator"`
	Rule      string `json:"rule,omitempty"` // matched role, ACL grantee or rule ID
	Reason    string `json:"reason,omitempty"`
}

// Decision is the final answer returned to the caller after combination.
type Decision struct {
	Allowed   bool     `json:"allowed"`
	Reason    string   `json:"reason"`
	MatchedBy string   `json:"matched_by,omitempty"`
	// Evaluators lists every evaluator that affirmatively allowed, or the
	// evaluator whose deny decided the outcome.
	Evaluators []string  `json:"evaluators"`
	Trace      []string  `json:"trace,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	// Version is the policy model version the decision was computed against.
	Version int64 `json:"version"`
}

// Permission grants an action on resources matching a pattern such as
// "file:*". An empty pattern matches any resource.
type Permission struct {
	Action   Action `json:"action"`
	Resource string `json:"resource,omitempty"`
}

// Role is a named set of permissions granted unconditionally to any holder.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	Inherits    []string     `json:"inherits,omitempty"`
}

// ACLEntry grants or denies a set of actions to one grantee. Grantee is a
// subject ID or "group:<name>". Entries are consulted in insertion order;
// the first entry matching (grantee, action) wins.
type ACLEntry struct {
	Grantee string   `json:"grantee"`
	Actions []Action `json:"actions"`
	Effect  Effect   `json:"effect"`
}

// Matches reports whether the entry applies to the subject and action.
func (a ACLEntry) Matches(sub *Subject, action Action) bool {
	if a.Grantee != "*" && a.Grantee != sub.ID {
		g, ok := strings.CutPrefix(a.Grantee, "group:")
		if !ok {
			return false
		}
		found := false
		for _, sg := range sub.Groups {
			if sg == g {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, act := range a.Actions {
		if act == action || act == "*" {
			return true
		}
	}
	return false
}

// AttributeRule is an attribute-condition rule. It applies to one action and
// optionally one resource type (empty means any type).
type AttributeRule struct {
	ID           string `json:"id"`
	Action       Action `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	Condition    Expr   `json:"condition"`
}

// ContextRule is a context-only rule. When its condition holds for the
// request environment the rule blocks the request, independent of subject
// and resource identity.
type ContextRule struct {
	ID        string `json:"id"`
	Condition Expr   `json:"condition"`
	Reason    string `json:"reason,omitempty"`
}

// Request bundles the arguments of one authorization question, for batch
// evaluation.
type Request struct {
	Subject     *Subject
	Action      Action
	Resource    *Resource
	Environment *Environment
}
