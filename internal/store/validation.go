package store

// validation.go checks a snapshot before it is saved.
//
// All problems are collected so the configuration surface can mark every
// offending column at once:
//  1. Every column has a known type and (if set) a known role
//  2. No singleton role is held by more than one column
//  3. Every required role is held by some column
//  4. System names are present and unique within the table

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// ErrValidation is matched by ValidationErrors.
var ErrValidation = errors.New("configuration is invalid")

// Fields named in a ValidationError.
const (
	FieldType       = "type"
	FieldRole       = "role"
	FieldSystemName = "systemName"
	FieldTable      = "table"
)

// ValidationError is one problem found in a snapshot. ColumnID is empty for
// table-level problems such as a missing required role.
type ValidationError struct {
	ColumnID string `json:"columnId,omitempty"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.ColumnID != "" {
		return fmt.Sprintf("column %s: %s: %s", e.ColumnID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is returned by Submit when a snapshot is rejected.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(v), strings.Join(msgs, "; "))
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Validate checks snapshot against cat and returns nil or ValidationErrors.
func Validate(cat *catalog.Catalog, snapshot []assign.ColumnAssignment) error {
	var errs ValidationErrors
	holders := make(map[catalog.RoleKey][]string)
	names := make(map[string]string)

	for _, c := range snapshot {
		if _, err := cat.Type(c.CurrentType); err != nil {
			errs = append(errs, ValidationError{ColumnID: c.ColumnID, Field: FieldType, Message: err.Error()})
		}
		if c.CurrentRole != "" {
			if _, err := cat.Role(c.CurrentRole); err != nil {
				errs = append(errs, ValidationError{ColumnID: c.ColumnID, Field: FieldRole, Message: err.Error()})
			} else {
				holders[c.CurrentRole] = append(holders[c.CurrentRole], c.ColumnID)
			}
		}

		name := strings.TrimSpace(c.Names.SystemName)
		switch {
		case name == "":
			errs = append(errs, ValidationError{ColumnID: c.ColumnID, Field: FieldSystemName, Message: "system name is required"})
		case names[strings.ToLower(name)] != "":
			errs = append(errs, ValidationError{
				ColumnID: c.ColumnID,
				Field:    FieldSystemName,
				Message:  fmt.Sprintf("system name %q is already used by column %s", name, names[strings.ToLower(name)]),
			})
		default:
			names[strings.ToLower(name)] = c.ColumnID
		}
	}

	for _, key := range cat.SingletonRoles() {
		ids := holders[key]
		for _, id := range ids[min(1, len(ids)):] {
			errs = append(errs, ValidationError{
				ColumnID: id,
				Field:    FieldRole,
				Message:  fmt.Sprintf("role %s is already held by column %s", key, ids[0]),
			})
		}
	}

	for _, key := range cat.RequiredRoles() {
		if len(holders[key]) == 0 {
			label := string(key)
			if def, err := cat.Role(key); err == nil && def.Label != "" {
				label = def.Label
			}
			errs = append(errs, ValidationError{Field: FieldTable, Message: fmt.Sprintf("a column must be assigned %s", label)})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
