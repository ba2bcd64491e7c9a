package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// file is the on-disk YAML layout of a catalog.
type file struct {
	Types []struct {
		Code         TypeCode `yaml:"code"`
		ShortCode    string   `yaml:"short_code"`
		Label        string   `yaml:"label"`
		Category     Category `yaml:"category"`
		AllowsFormat bool     `yaml:"allows_format"`
		Plain        TypeCode `yaml:"plain,omitempty"`
	} `yaml:"types"`
	Roles []struct {
		Key              RoleKey `yaml:"key"`
		Label            string  `yaml:"label"`
		Scope            Scope   `yaml:"scope"`
		ImmutableOnceSet bool    `yaml:"immutable_once_set,omitempty"`
		FixedNaming      *Names  `yaml:"fixed_naming,omitempty"`
	} `yaml:"roles"`
	UnableToReselect []RoleKey `yaml:"unable_to_reselect"`
	RequiredRoles    []RoleKey `yaml:"required_roles"`
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// MustDefault is Default for tests and init paths; it panics on error.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns the embedded default when path
// is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a Catalog from YAML. Unknown fields, duplicate keys and
// dangling references are rejected so that a broken catalog fails at startup.
func Parse(data []byte) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		types:            make(map[TypeCode]TypeDefinition, len(f.Types)),
		roles:            make(map[RoleKey]RoleDefinition, len(f.Roles)),
		unableToReselect: make(map[RoleKey]bool, len(f.UnableToReselect)),
	}

	var errs []error

	for i, t := range f.Types {
		if t.Code == "" {
			errs = append(errs, fmt.Errorf("type #%d: code is required", i+1))
			continue
		}
		if _, dup := c.types[t.Code]; dup {
			errs = append(errs, fmt.Errorf("type %s: duplicate code", t.Code))
			continue
		}
		if !t.Category.Valid() {
			errs = append(errs, fmt.Errorf("type %s: invalid category %q", t.Code, t.Category))
		}
		plain := t.Plain
		if plain == "" {
			plain = t.Code
		}
		label := t.Label
		if label == "" {
			label = string(t.Code)
		}
		c.types[t.Code] = TypeDefinition{
			Code:               t.Code,
			ShortCode:          t.ShortCode,
			DisplayLabel:       label,
			AllowsFormatString: t.AllowsFormat,
			Category:           t.Category,
			PlainCode:          plain,
			Order:              i,
		}
		c.typeOrder = append(c.typeOrder, t.Code)
	}

	for _, code := range c.typeOrder {
		def := c.types[code]
		if _, ok := c.types[def.PlainCode]; !ok {
			errs = append(errs, fmt.Errorf("type %s: plain %w", code, &UnknownTypeError{Code: def.PlainCode}))
		}
	}

	for i, r := range f.Roles {
		if r.Key == "" {
			errs = append(errs, fmt.Errorf("role #%d: key is required", i+1))
			continue
		}
		if _, dup := c.roles[r.Key]; dup {
			errs = append(errs, fmt.Errorf("role %s: duplicate key", r.Key))
			continue
		}
		scope := r.Scope
		if scope == "" {
			scope = ScopeNone
		}
		if scope != ScopeNone && scope != ScopePerTable {
			errs = append(errs, fmt.Errorf("role %s: invalid scope %q", r.Key, r.Scope))
		}
		label := r.Label
		if label == "" {
			label = string(r.Key)
		}
		c.roles[r.Key] = RoleDefinition{
			Key:              r.Key,
			Label:            label,
			SingletonScope:   scope,
			ImmutableOnceSet: r.ImmutableOnceSet,
			FixedNaming:      r.FixedNaming,
			Order:            i,
		}
		c.roleOrder = append(c.roleOrder, r.Key)
	}

	for _, key := range f.UnableToReselect {
		if _, ok := c.roles[key]; !ok {
			errs = append(errs, fmt.Errorf("unable_to_reselect: %w", &UnknownRoleError{Key: key}))
			continue
		}
		c.unableToReselect[key] = true
	}

	for _, key := range f.RequiredRoles {
		if _, ok := c.roles[key]; !ok {
			errs = append(errs, fmt.Errorf("required_roles: %w", &UnknownRoleError{Key: key}))
			continue
		}
		c.requiredRoles = append(c.requiredRoles, key)
	}

	if len(c.typeOrder) == 0 {
		errs = append(errs, errors.New("catalog defines no types"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}
