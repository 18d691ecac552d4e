package verdict

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown role, subject or resource. On the
// authorization path it is never surfaced: the engine converts it to a
// deny with reason "unknown principal or resource".
var ErrNotFound = errors.New("not found")

// ErrTimeout reports that an attribute fetch exceeded its bound. The
// evaluator depending on the attribute degrades to NotApplicable.
var ErrTimeout = errors.New("attribute fetch timed out")

// ErrConflict is the sentinel matched by ConflictError via errors.Is.
var ErrConflict = errors.New("conflicting acl entry")

// ConflictError is returned when a mutation would create a second ACL entry
// for the same (grantee, action) pair on a resource.
type ConflictError struct {
	Resource string
	Grantee  string
	Action   Action
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("acl entry for grantee %q action %q already exists on resource %q", e.Grantee, e.Action, e.Resource)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
