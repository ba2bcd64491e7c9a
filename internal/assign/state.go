package assign

import (
	"fmt"

	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// ColumnAssignment is the current configuration of one column.
type ColumnAssignment struct {
	ColumnID    string           `json:"columnId"`
	CurrentType catalog.TypeCode `json:"currentType"`
	// CurrentRole is empty when the column carries no role.
	CurrentRole  catalog.RoleKey `json:"currentRole,omitempty"`
	IsRegistered bool            `json:"isRegistered"`
	// IsMaster columns are never targets of a bulk copy.
	IsMaster bool `json:"isMaster,omitempty"`

	Names catalog.Names `json:"names"`
	// PriorNames holds the names in effect before a fixed-naming role was
	// applied. Nil when no fixed-naming role is active.
	PriorNames *catalog.Names `json:"priorNames,omitempty"`

	Format string `json:"format,omitempty"`
	// CachedFormat keeps the last format while the type does not accept one.
	CachedFormat *string `json:"cachedFormat,omitempty"`
}

// HasRole reports whether the column carries key.
func (a ColumnAssignment) HasRole(key catalog.RoleKey) bool {
	return key != "" && a.CurrentRole == key
}

// clone returns a deep copy so callers never share pointers with the set.
func (a ColumnAssignment) clone() ColumnAssignment {
	if a.PriorNames != nil {
		n := *a.PriorNames
		a.PriorNames = &n
	}
	if a.CachedFormat != nil {
		f := *a.CachedFormat
		a.CachedFormat = &f
	}
	return a
}

// TableAssignmentSet owns the ColumnAssignments of one table in display order.
//
// It is plain storage: constraints are enforced by the Engine. Every read
// returns a copy and every write replaces a whole column, so readers never
// observe a partially updated assignment.
type TableAssignmentSet struct {
	columns []ColumnAssignment
	index   map[string]int
}

// NewTableAssignmentSet builds a set from columns in display order.
func NewTableAssignmentSet(columns []ColumnAssignment) (*TableAssignmentSet, error) {
	s := &TableAssignmentSet{
		columns: make([]ColumnAssignment, 0, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for _, c := range columns {
		if c.ColumnID == "" {
			return nil, ErrEmptyColumnID
		}
		if _, dup := s.index[c.ColumnID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumn, c.ColumnID)
		}
		s.index[c.ColumnID] = len(s.columns)
		s.columns = append(s.columns, c.clone())
	}
	return s, nil
}

// Get returns a copy of the assignment for columnID.
func (s *TableAssignmentSet) Get(columnID string) (ColumnAssignment, bool) {
	i, ok := s.index[columnID]
	if !ok {
		return ColumnAssignment{}, false
	}
	return s.columns[i].clone(), true
}

// Set replaces the assignment stored for columnID.
func (s *TableAssignmentSet) Set(columnID string, a ColumnAssignment) error {
	i, ok := s.index[columnID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	a.ColumnID = columnID
	s.columns[i] = a.clone()
	return nil
}

// All returns copies of every assignment in display order.
func (s *TableAssignmentSet) All() []ColumnAssignment {
	out := make([]ColumnAssignment, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.clone()
	}
	return out
}

// Len returns the number of columns.
func (s *TableAssignmentSet) Len() int {
	return len(s.columns)
}

// Position returns the display index of columnID.
func (s *TableAssignmentSet) Position(columnID string) (int, bool) {
	i, ok := s.index[columnID]
	return i, ok
}

// holders returns the columns other than exclude that hold key.
func (s *TableAssignmentSet) holders(key catalog.RoleKey, exclude string) []string {
	var ids []string
	for _, c := range s.columns {
		if c.ColumnID != exclude && c.HasRole(key) {
			ids = append(ids, c.ColumnID)
		}
	}
	return ids
}

func (s *TableAssignmentSet) clone() *TableAssignmentSet {
	out := &TableAssignmentSet{
		columns: make([]ColumnAssignment, len(s.columns)),
		index:   make(map[string]int, len(s.index)),
	}
	for i, c := range s.columns {
		out.columns[i] = c.clone()
	}
	for k, v := range s.index {
		out.index[k] = v
	}
	return out
}
