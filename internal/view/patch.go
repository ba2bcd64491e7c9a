// Package view projects engine state onto the configuration surface.
//
// Widgets never derive state on their own. A CascadeResult is folded into
// one Patch per touched column, and rows are re-rendered from the engine
// snapshot, so the browser only ever applies what the engine decided.
package view

import (
	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// Patch is the net widget change for one column after an operation.
// Nil pointers mean "unchanged".
type Patch struct {
	ColumnID string `json:"columnId"`

	Type        *catalog.TypeCode `json:"type,omitempty"`
	Role        *catalog.RoleKey  `json:"role,omitempty"`
	RoleCleared bool              `json:"roleCleared,omitempty"`
	Names       *catalog.Names    `json:"names,omitempty"`
	NamesFixed  *bool             `json:"namesFixed,omitempty"`

	FormatEnabled *bool  `json:"formatEnabled,omitempty"`
	Format        string `json:"format,omitempty"`

	DisableRoles []catalog.RoleKey `json:"disableRoles,omitempty"`
	EnableRoles  []catalog.RoleKey `json:"enableRoles,omitempty"`
}

// Patches folds res into one Patch per column, in the order columns first
// appear in the cascade. Later effects on the same column win.
func Patches(res assign.CascadeResult) []Patch {
	idx := make(map[string]int)
	var out []Patch

	for _, e := range res.Effects {
		i, ok := idx[e.ColumnID]
		if !ok {
			i = len(out)
			idx[e.ColumnID] = i
			out = append(out, Patch{ColumnID: e.ColumnID})
		}
		p := &out[i]

		switch e.Kind {
		case assign.EffectTypeChanged:
			code, role := e.TypeCode, e.RoleKey
			p.Type = &code
			p.Role = &role
			p.RoleCleared = role == ""
		case assign.EffectRoleCleared:
			empty := catalog.RoleKey("")
			p.Role = &empty
			p.RoleCleared = true
		case assign.EffectNamesFixed, assign.EffectNamesRestored:
			fixed := e.Kind == assign.EffectNamesFixed
			p.Names = &catalog.Names{SystemName: e.SystemName, LocalizedName: e.LocalizedName}
			p.NamesFixed = &fixed
		case assign.EffectFormatFieldEnabled:
			on := true
			p.FormatEnabled = &on
			p.Format = e.Format
		case assign.EffectFormatFieldDisabled:
			off := false
			p.FormatEnabled = &off
			p.Format = ""
		case assign.EffectRoleDisabled:
			p.EnableRoles = without(p.EnableRoles, e.RoleKey)
			p.DisableRoles = append(p.DisableRoles, e.RoleKey)
		case assign.EffectRoleEnabled:
			p.DisableRoles = without(p.DisableRoles, e.RoleKey)
			p.EnableRoles = append(p.EnableRoles, e.RoleKey)
		}
	}
	return out
}

func without(keys []catalog.RoleKey, key catalog.RoleKey) []catalog.RoleKey {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
