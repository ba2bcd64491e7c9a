package view

import (
	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// Row is the widget state of one column.
type Row struct {
	ColumnID      string
	SystemName    string
	LocalizedName string
	Type          catalog.TypeCode
	Role          catalog.RoleKey
	Format        string
	FormatEnabled bool
	NamesFixed    bool
	Locked        bool
	Master        bool
	Registered    bool
	Disabled      map[catalog.RoleKey]bool
}

// Table is everything needed to render a configuration surface.
type Table struct {
	SessionID string
	TableKey  string
	Types     []catalog.TypeDefinition
	Roles     []catalog.RoleDefinition
	Rows      []Row
}

// NewTable reads the current state of e.
func NewTable(sessionID, tableKey string, e *assign.Engine) (Table, error) {
	cat := e.Catalog()
	t := Table{
		SessionID: sessionID,
		TableKey:  tableKey,
		Types:     cat.Types(),
		Roles:     cat.Roles(),
	}
	for _, c := range e.Snapshot() {
		r, err := newRow(cat, e, c)
		if err != nil {
			return Table{}, err
		}
		t.Rows = append(t.Rows, r)
	}
	return t, nil
}

// Select returns the rows for ids that exist in the table, in the order of
// ids.
func (t Table) Select(ids []string) []Row {
	byID := make(map[string]Row, len(t.Rows))
	for _, r := range t.Rows {
		byID[r.ColumnID] = r
	}
	var out []Row
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func newRow(cat *catalog.Catalog, e *assign.Engine, c assign.ColumnAssignment) (Row, error) {
	typeDef, err := cat.Type(c.CurrentType)
	if err != nil {
		return Row{}, err
	}
	disabled, err := e.DisabledRoles(c.ColumnID)
	if err != nil {
		return Row{}, err
	}

	r := Row{
		ColumnID:      c.ColumnID,
		SystemName:    c.Names.SystemName,
		LocalizedName: c.Names.LocalizedName,
		Type:          c.CurrentType,
		Role:          c.CurrentRole,
		Format:        c.Format,
		FormatEnabled: typeDef.AllowsFormatString,
		Locked:        e.Locked(c.ColumnID),
		Master:        c.IsMaster,
		Registered:    c.IsRegistered,
		Disabled:      make(map[catalog.RoleKey]bool, len(disabled)),
	}
	for _, k := range disabled {
		r.Disabled[k] = true
	}
	if c.CurrentRole != "" {
		role, err := cat.Role(c.CurrentRole)
		if err != nil {
			return Row{}, err
		}
		r.NamesFixed = role.FixedNaming != nil
	}
	return r, nil
}
