package assign

import "github.com/JonMunkholm/colconfig/internal/catalog"

// EffectKind names one presentation change the view has to apply.
type EffectKind string

const (
	EffectRoleCleared         EffectKind = "roleCleared"
	EffectNamesRestored       EffectKind = "namesRestored"
	EffectNamesFixed          EffectKind = "namesFixed"
	EffectRoleDisabled        EffectKind = "roleDisabled"
	EffectRoleEnabled         EffectKind = "roleEnabled"
	EffectFormatFieldEnabled  EffectKind = "formatFieldEnabled"
	EffectFormatFieldDisabled EffectKind = "formatFieldDisabled"
	EffectTypeChanged         EffectKind = "typeChanged"
)

// Effect is one entry of a CascadeResult. Only the fields relevant to Kind
// are set.
type Effect struct {
	ColumnID string     `json:"columnId"`
	Kind     EffectKind `json:"kind"`

	// namesRestored, namesFixed
	SystemName    string `json:"systemName,omitempty"`
	LocalizedName string `json:"localizedName,omitempty"`

	// roleDisabled, roleEnabled; on typeChanged the role now selected
	RoleKey catalog.RoleKey `json:"roleKey,omitempty"`

	// typeChanged
	TypeCode catalog.TypeCode `json:"typeCode,omitempty"`

	// formatFieldEnabled: the restored format, if any
	Format string `json:"format,omitempty"`
}

// CascadeResult lists, in application order, every change an operation
// caused.
type CascadeResult struct {
	Effects []Effect `json:"effects"`
	// Skipped holds bulk-copy targets left alone because they are locked.
	Skipped []string `json:"skipped,omitempty"`
}

// noEffects is the result of an operation that changed nothing visible.
// Effects stays non-nil so it encodes as an empty list.
func noEffects() CascadeResult {
	return CascadeResult{Effects: []Effect{}}
}

// Empty reports whether the operation changed nothing.
func (r CascadeResult) Empty() bool {
	return len(r.Effects) == 0 && len(r.Skipped) == 0
}

// For returns the effects that concern columnID, in order.
func (r CascadeResult) For(columnID string) []Effect {
	var out []Effect
	for _, e := range r.Effects {
		if e.ColumnID == columnID {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether the result contains an effect of kind for columnID.
func (r CascadeResult) Has(columnID string, kind EffectKind) bool {
	for _, e := range r.Effects {
		if e.ColumnID == columnID && e.Kind == kind {
			return true
		}
	}
	return false
}

// Columns returns the distinct column IDs touched, in first-seen order.
func (r CascadeResult) Columns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.Effects {
		if !seen[e.ColumnID] {
			seen[e.ColumnID] = true
			out = append(out, e.ColumnID)
		}
	}
	return out
}
