// Package catalog holds the static registries the assignment engine reads:
// the supported column data types and the role attributes a column may carry.
//
// A Catalog is built once at startup (see [Load] and [Parse]) and never
// mutated afterwards, so it is safe to share between sessions without locking.
package catalog

import (
	"errors"
	"fmt"
)

// Category groups data types by the kind of value they hold.
type Category string

const (
	CategoryNumeric  Category = "numeric"
	CategoryText     Category = "text"
	CategoryDatetime Category = "datetime"
	CategoryBoolean  Category = "boolean"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNumeric, CategoryText, CategoryDatetime, CategoryBoolean:
		return true
	}
	return false
}

// Scope controls how many columns of a table may hold a role.
type Scope string

const (
	ScopeNone     Scope = "none"
	ScopePerTable Scope = "per_table"
)

// TypeCode identifies a data type, e.g. "INTEGER" or "REAL_SEP".
type TypeCode string

// RoleKey identifies a role, e.g. "is_get_date".
type RoleKey string

// Names is the pair of name fields shown for a column.
type Names struct {
	SystemName    string `json:"systemName" yaml:"system_name"`
	LocalizedName string `json:"localizedName" yaml:"localized_name"`
}

// TypeDefinition describes one supported data type.
type TypeDefinition struct {
	Code               TypeCode `json:"code"`
	ShortCode          string   `json:"shortCode"`
	DisplayLabel       string   `json:"displayLabel"`
	AllowsFormatString bool     `json:"allowsFormatString"`
	Category           Category `json:"category"`
	// PlainCode is the type a column falls back to when its role is cleared.
	PlainCode TypeCode `json:"plainCode"`
	Order     int      `json:"order"`
}

// RoleDefinition describes one role attribute.
type RoleDefinition struct {
	Key              RoleKey `json:"key"`
	Label            string  `json:"label"`
	SingletonScope   Scope   `json:"singletonScope"`
	ImmutableOnceSet bool    `json:"immutableOnceSet"`
	FixedNaming      *Names  `json:"fixedNaming,omitempty"`
	Order            int     `json:"order"`
}

// Singleton reports whether at most one column per table may hold the role.
func (r RoleDefinition) Singleton() bool {
	return r.SingletonScope == ScopePerTable
}

var (
	// ErrUnknownType is matched by every *UnknownTypeError.
	ErrUnknownType = errors.New("unknown type")
	// ErrUnknownRole is matched by every *UnknownRoleError.
	ErrUnknownRole = errors.New("unknown role")
)

// UnknownTypeError reports a type code missing from the catalog.
type UnknownTypeError struct {
	Code TypeCode
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type: %q", e.Code)
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// UnknownRoleError reports a role key missing from the catalog.
type UnknownRoleError struct {
	Key RoleKey
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role: %q", e.Key)
}

func (e *UnknownRoleError) Is(target error) bool {
	return target == ErrUnknownRole
}

// Catalog is the read-only registry of types and roles.
type Catalog struct {
	types     map[TypeCode]TypeDefinition
	roles     map[RoleKey]RoleDefinition
	typeOrder []TypeCode
	roleOrder []RoleKey

	unableToReselect map[RoleKey]bool
	requiredRoles    []RoleKey
}

// Type returns the definition for code.
func (c *Catalog) Type(code TypeCode) (TypeDefinition, error) {
	def, ok := c.types[code]
	if !ok {
		return TypeDefinition{}, &UnknownTypeError{Code: code}
	}
	return def, nil
}

// Role returns the definition for key.
func (c *Catalog) Role(key RoleKey) (RoleDefinition, error) {
	def, ok := c.roles[key]
	if !ok {
		return RoleDefinition{}, &UnknownRoleError{Key: key}
	}
	return def, nil
}

// Types returns all type definitions in display order.
func (c *Catalog) Types() []TypeDefinition {
	out := make([]TypeDefinition, len(c.typeOrder))
	for i, code := range c.typeOrder {
		out[i] = c.types[code]
	}
	return out
}

// Roles returns all role definitions in display order.
func (c *Catalog) Roles() []RoleDefinition {
	out := make([]RoleDefinition, len(c.roleOrder))
	for i, key := range c.roleOrder {
		out[i] = c.roles[key]
	}
	return out
}

// SingletonRoles returns the keys of all PER_TABLE roles in display order.
func (c *Catalog) SingletonRoles() []RoleKey {
	var out []RoleKey
	for _, key := range c.roleOrder {
		if c.roles[key].Singleton() {
			out = append(out, key)
		}
	}
	return out
}

// RolesConflictingWith returns the roles that may not be combined with key.
// Roles are independent of each other, so the set is always empty; only the
// same role on another column conflicts, and that is the engine's concern.
func (c *Catalog) RolesConflictingWith(key RoleKey) (map[RoleKey]struct{}, error) {
	if _, err := c.Role(key); err != nil {
		return nil, err
	}
	return map[RoleKey]struct{}{}, nil
}

// UnableToReselect reports whether a registered column holding key is locked
// to its current type and role.
func (c *Catalog) UnableToReselect(key RoleKey) bool {
	return c.unableToReselect[key]
}

// UnableToReselectRoles lists, in display order, the roles that lock a
// registered column.
func (c *Catalog) UnableToReselectRoles() []RoleKey {
	var out []RoleKey
	for _, key := range c.roleOrder {
		if c.unableToReselect[key] {
			out = append(out, key)
		}
	}
	return out
}

// RequiredRoles lists roles that a table must assign before it can be saved.
func (c *Catalog) RequiredRoles() []RoleKey {
	out := make([]RoleKey, len(c.requiredRoles))
	copy(out, c.requiredRoles)
	return out
}

// PlainType returns the type a column of type code reverts to when its role
// is cleared.
func (c *Catalog) PlainType(code TypeCode) (TypeDefinition, error) {
	def, err := c.Type(code)
	if err != nil {
		return TypeDefinition{}, err
	}
	if def.PlainCode == "" || def.PlainCode == def.Code {
		return def, nil
	}
	return c.Type(def.PlainCode)
}
