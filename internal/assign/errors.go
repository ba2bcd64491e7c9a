package assign

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/colconfig/internal/catalog"
)

var (
	ErrImmutableAssignment = errors.New("immutable assignment")
	ErrColumnNotFound      = errors.New("column not found")
	ErrDuplicateColumn     = errors.New("duplicate column")
	ErrDuplicateRole       = errors.New("duplicate singleton role")
	ErrEmptyColumnID       = errors.New("empty column id")
)

// Reasons carried by ImmutableAssignmentError.
const (
	ReasonRegistered = "registered column cannot change its role"
	ReasonBound      = "role is bound to another column"
)

// ImmutableAssignmentError rejects an operation that would move a locked
// role. The table is left untouched when it is returned.
type ImmutableAssignmentError struct {
	ColumnID string
	RoleKey  catalog.RoleKey
	// HolderID is the column the role is locked to.
	HolderID string
	Reason   string
}

func (e *ImmutableAssignmentError) Error() string {
	if e.HolderID != "" && e.HolderID != e.ColumnID {
		return fmt.Sprintf("column %s: role %s locked to column %s: %s", e.ColumnID, e.RoleKey, e.HolderID, e.Reason)
	}
	return fmt.Sprintf("column %s: role %s: %s", e.ColumnID, e.RoleKey, e.Reason)
}

func (e *ImmutableAssignmentError) Is(target error) bool {
	return target == ErrImmutableAssignment
}
