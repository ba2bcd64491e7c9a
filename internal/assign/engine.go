// Package assign implements the column type assignment engine: the per-table
// state of every column's data type and role, and the operations that change
// it while keeping singleton roles unique and locked roles in place.
//
// An Engine is not safe for concurrent use. Each operation runs to completion
// on a private copy of the table and is swapped in only when it succeeds, so
// a rejected operation leaves the table exactly as it was.
package assign

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// ColumnInput seeds one column when a table is loaded.
type ColumnInput struct {
	ColumnID      string           `json:"columnId"`
	InitialType   catalog.TypeCode `json:"initialType"`
	InitialRole   catalog.RoleKey  `json:"initialRole,omitempty"`
	IsRegistered  bool             `json:"isRegistered"`
	IsMaster      bool             `json:"isMaster,omitempty"`
	SystemName    string           `json:"systemName"`
	LocalizedName string           `json:"localizedName"`
	Format        string           `json:"format,omitempty"`
}

// Predicate selects bulk-copy targets. A nil Predicate matches nothing.
type Predicate func(ColumnAssignment) bool

// Engine applies assignment operations to one table.
type Engine struct {
	cat    *catalog.Catalog
	set    *TableAssignmentSet
	bound  map[catalog.RoleKey]string
	logger *slog.Logger
}

// NewEngine returns an engine with an empty table. A nil logger falls back to
// slog.Default().
func NewEngine(cat *catalog.Catalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	set, _ := NewTableAssignmentSet(nil)
	return &Engine{
		cat:    cat,
		set:    set,
		bound:  make(map[catalog.RoleKey]string),
		logger: logger,
	}
}

// Catalog returns the catalog the engine validates against.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.cat
}

// Load replaces the table with columns. Unknown types or roles, duplicate
// column IDs and a singleton role on more than one column are rejected and
// leave the current table in place.
func (e *Engine) Load(columns []ColumnInput) error {
	assignments := make([]ColumnAssignment, 0, len(columns))
	bound := make(map[catalog.RoleKey]string)
	singletons := make(map[catalog.RoleKey]string)

	for _, in := range columns {
		typeDef, err := e.cat.Type(in.InitialType)
		if err != nil {
			return fmt.Errorf("load column %s: %w", in.ColumnID, err)
		}

		a := ColumnAssignment{
			ColumnID:     in.ColumnID,
			CurrentType:  in.InitialType,
			CurrentRole:  in.InitialRole,
			IsRegistered: in.IsRegistered,
			IsMaster:     in.IsMaster,
			Names:        catalog.Names{SystemName: in.SystemName, LocalizedName: in.LocalizedName},
		}

		if in.Format != "" {
			if typeDef.AllowsFormatString {
				a.Format = in.Format
			} else {
				f := in.Format
				a.CachedFormat = &f
			}
		}

		if in.InitialRole != "" {
			role, err := e.cat.Role(in.InitialRole)
			if err != nil {
				return fmt.Errorf("load column %s: %w", in.ColumnID, err)
			}
			if role.Singleton() {
				if other, dup := singletons[role.Key]; dup {
					return fmt.Errorf("%w: %s on columns %s and %s", ErrDuplicateRole, role.Key, other, in.ColumnID)
				}
				singletons[role.Key] = in.ColumnID
			}
			if role.ImmutableOnceSet {
				bound[role.Key] = in.ColumnID
			}
			if role.FixedNaming != nil {
				if a.Names != *role.FixedNaming {
					prior := a.Names
					a.PriorNames = &prior
				}
				a.Names = *role.FixedNaming
			}
		}

		assignments = append(assignments, a)
	}

	set, err := NewTableAssignmentSet(assignments)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	e.set = set
	e.bound = bound
	e.logger.Debug("table loaded", "columns", set.Len(), "bound_roles", len(bound))
	return nil
}

// Get returns the assignment of columnID.
func (e *Engine) Get(columnID string) (ColumnAssignment, error) {
	a, ok := e.set.Get(columnID)
	if !ok {
		return ColumnAssignment{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	return a, nil
}

// Snapshot returns every assignment in display order. The result is a copy
// and may be handed to the save boundary.
func (e *Engine) Snapshot() []ColumnAssignment {
	return e.set.All()
}

// Len returns the number of columns in the table.
func (e *Engine) Len() int {
	return e.set.Len()
}

// DisabledRoles returns the roles that cannot be selected on columnID
// because another column holds them.
func (e *Engine) DisabledRoles(columnID string) ([]catalog.RoleKey, error) {
	if _, ok := e.set.Get(columnID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	disabled := disabledRoles(e.cat, e.set, e.bound)[columnID]
	var out []catalog.RoleKey
	for _, r := range e.cat.Roles() {
		if disabled[r.Key] {
			out = append(out, r.Key)
		}
	}
	return out, nil
}

// Locked reports whether columnID is registered with a role that cannot be
// reselected, i.e. whether its type selector should be disabled.
func (e *Engine) Locked(columnID string) bool {
	a, ok := e.set.Get(columnID)
	return ok && e.locked(a)
}

func (e *Engine) locked(a ColumnAssignment) bool {
	return a.IsRegistered && a.CurrentRole != "" && e.cat.UnableToReselect(a.CurrentRole)
}

// Assign sets the type and role of columnID. An empty roleKey clears the
// role. Other holders of a singleton role are demoted to their plain type.
func (e *Engine) Assign(columnID string, typeCode catalog.TypeCode, roleKey catalog.RoleKey) (CascadeResult, error) {
	op := e.begin()
	if err := op.assign(columnID, typeCode, roleKey); err != nil {
		e.reject("assign", columnID, err)
		return CascadeResult{}, err
	}
	res := e.commit(op)
	e.logger.Debug("assign",
		"column", columnID,
		"type", typeCode,
		"role", roleKey,
		"effects", len(res.Effects),
	)
	return res, nil
}

// CopyToAllBelow applies the type and role of columnID to every non-master
// column after it in display order.
func (e *Engine) CopyToAllBelow(columnID string) (CascadeResult, error) {
	if e.set.Len() == 0 {
		return noEffects(), nil
	}
	pos, ok := e.set.Position(columnID)
	if !ok {
		return CascadeResult{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	all := e.set.All()
	return e.copyTo(columnID, all[pos+1:], "copy_below")
}

// CopyToFilteredSet applies the type and role of columnID to every other
// non-master column matching match, in display order.
func (e *Engine) CopyToFilteredSet(columnID string, match Predicate) (CascadeResult, error) {
	if e.set.Len() == 0 {
		return noEffects(), nil
	}
	if _, ok := e.set.Position(columnID); !ok {
		return CascadeResult{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	var targets []ColumnAssignment
	if match != nil {
		for _, c := range e.set.All() {
			if c.ColumnID != columnID && match(c) {
				targets = append(targets, c)
			}
		}
	}
	return e.copyTo(columnID, targets, "copy_filtered")
}

func (e *Engine) copyTo(sourceID string, targets []ColumnAssignment, name string) (CascadeResult, error) {
	src, _ := e.set.Get(sourceID)
	op := e.begin()

	for _, t := range targets {
		if t.IsMaster {
			continue
		}
		err := op.assign(t.ColumnID, src.CurrentType, src.CurrentRole)
		if errors.Is(err, ErrImmutableAssignment) {
			op.skipped = append(op.skipped, t.ColumnID)
			e.logger.Debug("copy target skipped", "op", name, "column", t.ColumnID, "error", err)
			continue
		}
		if err != nil {
			e.reject(name, sourceID, err)
			return CascadeResult{}, err
		}
	}

	res := e.commit(op)
	e.logger.Debug(name,
		"column", sourceID,
		"targets", len(targets),
		"skipped", len(res.Skipped),
		"effects", len(res.Effects),
	)
	return res, nil
}

// ResetToPlainType clears the role of columnID, reverts it to its plain type
// and restores any names a fixed-naming role replaced.
func (e *Engine) ResetToPlainType(columnID string) (CascadeResult, error) {
	op := e.begin()
	a, ok := op.set.Get(columnID)
	if !ok {
		return CascadeResult{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	if e.locked(a) {
		err := &ImmutableAssignmentError{ColumnID: columnID, RoleKey: a.CurrentRole, HolderID: columnID, Reason: ReasonRegistered}
		e.reject("reset", columnID, err)
		return CascadeResult{}, err
	}
	if err := op.reset(columnID); err != nil {
		return CascadeResult{}, err
	}
	res := e.commit(op)
	e.logger.Debug("reset", "column", columnID, "effects", len(res.Effects))
	return res, nil
}

// SetFormat stores a format pattern on columnID. It is ignored when the
// column's type does not accept a format.
func (e *Engine) SetFormat(columnID, format string) (CascadeResult, error) {
	a, ok := e.set.Get(columnID)
	if !ok {
		return CascadeResult{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	def, err := e.cat.Type(a.CurrentType)
	if err != nil {
		return CascadeResult{}, err
	}
	if !def.AllowsFormatString {
		return noEffects(), nil
	}
	a.Format = format
	return noEffects(), e.set.Set(columnID, a)
}

// Rename edits the name fields of columnID. While a fixed-naming role is
// active the names stay fixed and the result re-asserts them.
func (e *Engine) Rename(columnID string, names catalog.Names) (CascadeResult, error) {
	a, ok := e.set.Get(columnID)
	if !ok {
		return CascadeResult{}, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	if a.CurrentRole != "" {
		role, err := e.cat.Role(a.CurrentRole)
		if err != nil {
			return CascadeResult{}, err
		}
		if role.FixedNaming != nil {
			return CascadeResult{Effects: []Effect{namesEffect(columnID, EffectNamesFixed, a.Names)}}, nil
		}
	}
	a.Names = names
	return noEffects(), e.set.Set(columnID, a)
}

func (e *Engine) reject(op, columnID string, err error) {
	if errors.Is(err, ErrImmutableAssignment) {
		e.logger.Warn("assignment rejected", "op", op, "column", columnID, "error", err)
		return
	}
	e.logger.Debug("operation failed", "op", op, "column", columnID, "error", err)
}

// operation is one in-flight change against a private copy of the table.
type operation struct {
	cat     *catalog.Catalog
	set     *TableAssignmentSet
	bound   map[catalog.RoleKey]string
	before  map[string]map[catalog.RoleKey]bool
	effects []Effect
	skipped []string
}

func (e *Engine) begin() *operation {
	bound := make(map[catalog.RoleKey]string, len(e.bound))
	for k, v := range e.bound {
		bound[k] = v
	}
	return &operation{
		cat:     e.cat,
		set:     e.set.clone(),
		bound:   bound,
		before:  disabledRoles(e.cat, e.set, e.bound),
		effects: []Effect{},
	}
}

// commit installs the operation's table and appends the role enable/disable
// effects implied by the new holders.
func (e *Engine) commit(op *operation) CascadeResult {
	after := disabledRoles(op.cat, op.set, op.bound)
	roles := op.cat.Roles()

	for _, c := range op.set.All() {
		was, now := op.before[c.ColumnID], after[c.ColumnID]
		for _, r := range roles {
			switch {
			case now[r.Key] && !was[r.Key]:
				op.effects = append(op.effects, Effect{ColumnID: c.ColumnID, Kind: EffectRoleDisabled, RoleKey: r.Key})
			case was[r.Key] && !now[r.Key]:
				op.effects = append(op.effects, Effect{ColumnID: c.ColumnID, Kind: EffectRoleEnabled, RoleKey: r.Key})
			}
		}
	}

	e.set = op.set
	e.bound = op.bound
	return CascadeResult{Effects: op.effects, Skipped: op.skipped}
}

func (op *operation) emit(e Effect) {
	op.effects = append(op.effects, e)
}

func (op *operation) assign(columnID string, typeCode catalog.TypeCode, roleKey catalog.RoleKey) error {
	a, ok := op.set.Get(columnID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	if _, err := op.cat.Type(typeCode); err != nil {
		return err
	}
	var role *catalog.RoleDefinition
	if roleKey != "" {
		def, err := op.cat.Role(roleKey)
		if err != nil {
			return err
		}
		role = &def
	}

	if a.CurrentType == typeCode && a.CurrentRole == roleKey {
		return nil
	}

	if a.IsRegistered && a.CurrentRole != "" && op.cat.UnableToReselect(a.CurrentRole) {
		return &ImmutableAssignmentError{ColumnID: columnID, RoleKey: a.CurrentRole, HolderID: columnID, Reason: ReasonRegistered}
	}

	var demote []string
	if role != nil {
		if holder, ok := op.bound[roleKey]; ok && holder != columnID {
			return &ImmutableAssignmentError{ColumnID: columnID, RoleKey: roleKey, HolderID: holder, Reason: ReasonBound}
		}
		if role.Singleton() {
			demote = op.set.holders(roleKey, columnID)
			for _, id := range demote {
				other, _ := op.set.Get(id)
				if other.IsRegistered && op.cat.UnableToReselect(roleKey) {
					return &ImmutableAssignmentError{ColumnID: columnID, RoleKey: roleKey, HolderID: id, Reason: ReasonRegistered}
				}
			}
		}
	}

	// Validation is complete; nothing below can fail on valid catalog data.

	for _, id := range demote {
		if err := op.reset(id); err != nil {
			return err
		}
	}

	var prevFixed bool
	if a.CurrentRole != "" {
		if prev, err := op.cat.Role(a.CurrentRole); err == nil {
			prevFixed = prev.FixedNaming != nil
		}
	}

	op.emit(Effect{ColumnID: columnID, Kind: EffectTypeChanged, TypeCode: typeCode, RoleKey: roleKey})
	if err := op.changeType(&a, typeCode); err != nil {
		return err
	}
	a.CurrentRole = roleKey

	switch {
	case role != nil && role.FixedNaming != nil:
		if a.PriorNames == nil {
			prior := a.Names
			a.PriorNames = &prior
		}
		a.Names = *role.FixedNaming
		op.emit(namesEffect(columnID, EffectNamesFixed, a.Names))
	case prevFixed:
		op.restoreNames(&a)
	}

	if role != nil && role.ImmutableOnceSet {
		if _, ok := op.bound[roleKey]; !ok {
			op.bound[roleKey] = columnID
		}
	}

	return op.set.Set(columnID, a)
}

// reset clears the role of columnID and reverts it to its plain type. Callers
// have already checked that the column may change.
func (op *operation) reset(columnID string) error {
	a, ok := op.set.Get(columnID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	plain, err := op.cat.PlainType(a.CurrentType)
	if err != nil {
		return err
	}
	if a.CurrentRole == "" && plain.Code == a.CurrentType && a.PriorNames == nil {
		return nil
	}

	if a.CurrentRole != "" {
		a.CurrentRole = ""
		op.emit(Effect{ColumnID: columnID, Kind: EffectRoleCleared})
	}
	if plain.Code != a.CurrentType {
		op.emit(Effect{ColumnID: columnID, Kind: EffectTypeChanged, TypeCode: plain.Code})
		if err := op.changeType(&a, plain.Code); err != nil {
			return err
		}
	}
	op.restoreNames(&a)

	return op.set.Set(columnID, a)
}

// changeType switches a to code and moves the format pattern in or out of
// the cache when format eligibility flips.
func (op *operation) changeType(a *ColumnAssignment, code catalog.TypeCode) error {
	oldDef, err := op.cat.Type(a.CurrentType)
	if err != nil {
		return err
	}
	newDef, err := op.cat.Type(code)
	if err != nil {
		return err
	}
	a.CurrentType = code

	switch {
	case oldDef.AllowsFormatString && !newDef.AllowsFormatString:
		if a.Format != "" {
			f := a.Format
			a.CachedFormat = &f
		}
		a.Format = ""
		op.emit(Effect{ColumnID: a.ColumnID, Kind: EffectFormatFieldDisabled})
	case !oldDef.AllowsFormatString && newDef.AllowsFormatString:
		if a.CachedFormat != nil {
			a.Format = *a.CachedFormat
			a.CachedFormat = nil
		}
		op.emit(Effect{ColumnID: a.ColumnID, Kind: EffectFormatFieldEnabled, Format: a.Format})
	}
	return nil
}

func (op *operation) restoreNames(a *ColumnAssignment) {
	if a.PriorNames == nil {
		return
	}
	a.Names = *a.PriorNames
	a.PriorNames = nil
	op.emit(namesEffect(a.ColumnID, EffectNamesRestored, a.Names))
}

func namesEffect(columnID string, kind EffectKind, n catalog.Names) Effect {
	return Effect{ColumnID: columnID, Kind: kind, SystemName: n.SystemName, LocalizedName: n.LocalizedName}
}

// disabledRoles maps each column to the roles it may not select: singleton
// roles held by another column and immutable roles bound to another column.
func disabledRoles(cat *catalog.Catalog, set *TableAssignmentSet, bound map[catalog.RoleKey]string) map[string]map[catalog.RoleKey]bool {
	held := make(map[catalog.RoleKey]string)
	for _, key := range cat.SingletonRoles() {
		if ids := set.holders(key, ""); len(ids) > 0 {
			held[key] = ids[0]
		}
	}

	out := make(map[string]map[catalog.RoleKey]bool, set.Len())
	for _, c := range set.columns {
		m := make(map[catalog.RoleKey]bool)
		for key, holder := range held {
			if holder != c.ColumnID {
				m[key] = true
			}
		}
		for key, holder := range bound {
			if holder != c.ColumnID {
				m[key] = true
			}
		}
		out[c.ColumnID] = m
	}
	return out
}
